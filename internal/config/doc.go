// Package config 负责加载 openrouted 的配置。配置来源依次为默认值、
// JSON/YAML 配置文件、.env 文件以及 OPENROUTE_ 前缀的环境变量。
package config
