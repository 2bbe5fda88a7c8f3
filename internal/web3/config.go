package web3

import (
	"fmt"
	"os"
	"strings"

	"OpenRoute-Chain/internal/route"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string          `yaml:"type"`
	ChainID     uint64          `yaml:"chain_id"`
	Name        string          `yaml:"name"`
	RPCURL      string          `yaml:"rpc_url"`
	BatchRPCURL string          `yaml:"batch_rpc_url"`
	ExplorerURL string          `yaml:"explorer_url"`
	SafeService string          `yaml:"safe_service_url"`
	NativeToken TokenDefinition `yaml:"native_token"`
	Description string          `yaml:"description"`
}

// TokenDefinition describes the native asset of a chain.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals int    `yaml:"decimals"`
}

// Chain converts the definition into chain metadata.
func (d ChainDefinition) Chain(key string) Chain {
	name := d.Name
	if name == "" {
		name = key
	}
	decimals := d.NativeToken.Decimals
	if decimals == 0 {
		decimals = 18
	}
	symbol := d.NativeToken.Symbol
	if symbol == "" {
		symbol = "ETH"
	}
	return Chain{
		ID:             d.ChainID,
		Key:            key,
		Name:           name,
		ExplorerURL:    d.ExplorerURL,
		SafeServiceURL: strings.TrimSpace(d.SafeService),
		NativeToken: route.Token{
			Address:  route.NativeTokenAddress,
			ChainID:  d.ChainID,
			Symbol:   symbol,
			Name:     d.NativeToken.Name,
			Decimals: decimals,
		},
	}
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain definitions from YAML content.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for key, def := range defs.Chains {
		if def.ChainID == 0 {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少 chain_id", key)
		}
	}
	return defs, nil
}
