package runner

import (
	"sync"

	"OpenRoute-Chain/internal/execution"
)

// Sessions 保存每条路由的交互令牌。执行中的路由与后续的执行共享同一令牌，
// 因此 SetInteraction 对正在运行的路由立即生效。
type Sessions struct {
	mu     sync.Mutex
	tokens map[string]*execution.Interaction
	active map[string]int
}

// NewSessions 创建空的会话表。
func NewSessions() *Sessions {
	return &Sessions{
		tokens: make(map[string]*execution.Interaction),
		active: make(map[string]int),
	}
}

// Interaction 返回路由的令牌，不存在时创建一个允许交互的令牌。
func (s *Sessions) Interaction(routeID string) *execution.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token(routeID)
}

func (s *Sessions) token(routeID string) *execution.Interaction {
	tok, ok := s.tokens[routeID]
	if !ok {
		tok = execution.NewInteraction(true)
		s.tokens[routeID] = tok
	}
	return tok
}

// Set 切换路由的交互许可。
func (s *Sessions) Set(routeID string, allowed bool) {
	tok := s.Interaction(routeID)
	if allowed {
		tok.Allow()
	} else {
		tok.Disallow()
	}
}

// Running 判断路由是否正在本进程中执行。
func (s *Sessions) Running(routeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[routeID] > 0
}

func (s *Sessions) begin(routeID string) *execution.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[routeID]++
	return s.token(routeID)
}

func (s *Sessions) end(routeID string, settled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[routeID]--; s.active[routeID] <= 0 {
		delete(s.active, routeID)
		if settled {
			delete(s.tokens, routeID)
		}
	}
}
