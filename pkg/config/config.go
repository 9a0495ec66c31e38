package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "SERVICE_REGISTRY"

// Config 定义整个应用的配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Etcd     EtcdConfig     `mapstructure:"etcd"`
	Client   ClientConfig   `mapstructure:"client"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	DNS      DNSConfig      `mapstructure:"dns"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 注册中心API监听配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RegistryConfig 健康探测与记录清理配置
type RegistryConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	// UnhealthyThreshold 连续探测失败多少次后才标记为不健康，1表示立即翻转
	UnhealthyThreshold int `mapstructure:"unhealthy_threshold"`
	// EvictionTTL 为0时不清理记录
	EvictionTTL      time.Duration `mapstructure:"eviction_ttl"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "memory" 或 "etcd"
}

// EtcdConfig etcd配置
type EtcdConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Prefix         string        `mapstructure:"prefix"`
}

// ClientConfig 服务发现客户端配置
type ClientConfig struct {
	RegistryURL       string        `mapstructure:"registry_url"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host          string            `mapstructure:"host"`
	Port          int               `mapstructure:"port"`
	LookupTimeout time.Duration     `mapstructure:"lookup_timeout"`
	Routes        map[string]string `mapstructure:"routes"`   // 路径前缀 -> 服务名
	Fallback      map[string]string `mapstructure:"fallback"` // 服务名 -> 静态地址
}

// DNSConfig DNS服务配置
type DNSConfig struct {
	Port   int    `mapstructure:"port"` // 为0时不启动DNS服务
	Domain string `mapstructure:"domain"`
	TTL    int    `mapstructure:"ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig 从文件和环境变量加载配置，当前目录存在.env时先加载
func LoadConfig(configPath string) (*Config, error) {
	envFile := ""
	if _, err := os.Stat(".env"); err == nil {
		envFile = ".env"
	}
	return LoadConfigWithEnvFile(configPath, envFile)
}

// LoadConfigWithEnvFile 从文件、.env文件和环境变量加载配置
func LoadConfigWithEnvFile(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		// 已存在的环境变量不会被覆盖
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("加载环境变量文件错误: %w", err)
		}
	}

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/service-registry")
	}
	v.SetConfigType("yaml")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时不返回错误
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 从环境变量读取配置
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5007)

	// 探测默认配置
	v.SetDefault("registry.probe_interval", 30*time.Second)
	v.SetDefault("registry.probe_timeout", 5*time.Second)
	v.SetDefault("registry.unhealthy_threshold", 1)
	v.SetDefault("registry.eviction_ttl", time.Duration(0))
	v.SetDefault("registry.eviction_interval", time.Minute)

	// 存储默认配置
	v.SetDefault("storage.backend", "memory")

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)
	v.SetDefault("etcd.request_timeout", 5*time.Second)
	v.SetDefault("etcd.prefix", "/service-registry/services/")

	// 客户端默认配置
	v.SetDefault("client.registry_url", "http://localhost:5007")
	v.SetDefault("client.heartbeat_interval", 30*time.Second)
	v.SetDefault("client.retry_delay", 5*time.Second)
	v.SetDefault("client.initial_delay", time.Duration(0))
	v.SetDefault("client.timeout", 5*time.Second)

	// 网关默认配置
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.lookup_timeout", 2*time.Second)
	v.SetDefault("gateway.routes", map[string]string{
		"/users":      "user-service",
		"/publishers": "publisher-service",
		"/books":      "book-service",
		"/search":     "search-service",
		"/cart":       "cart-service",
		"/orders":     "order-service",
	})
	v.SetDefault("gateway.fallback", map[string]string{
		"user-service":      "http://user-service:5000",
		"publisher-service": "http://publisher-service:5000",
		"book-service":      "http://book-service:5000",
		"search-service":    "http://search-service:5000",
		"cart-service":      "http://cart-service:5000",
		"order-service":     "http://order-service:5000",
	})

	// DNS默认配置
	v.SetDefault("dns.port", 0)
	v.SetDefault("dns.domain", "service.local")
	v.SetDefault("dns.ttl", 10)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("client.registry_url", EnvPrefix+"_CLIENT_REGISTRY_URL", "REGISTRY_URL")
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("注册中心端口配置无效: %d", config.Server.Port)
	}
	if config.Registry.ProbeInterval <= 0 {
		return fmt.Errorf("探测间隔必须大于0")
	}
	if config.Registry.ProbeTimeout <= 0 {
		return fmt.Errorf("探测超时时间必须大于0")
	}
	if config.Registry.UnhealthyThreshold < 1 {
		return fmt.Errorf("不健康阈值必须大于等于1: %d", config.Registry.UnhealthyThreshold)
	}
	switch config.Storage.Backend {
	case "memory":
	case "etcd":
		if len(config.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd端点不能为空")
		}
	default:
		return fmt.Errorf("不支持的存储后端: %s", config.Storage.Backend)
	}
	if config.Client.HeartbeatInterval <= 0 || config.Client.RetryDelay <= 0 {
		return fmt.Errorf("心跳间隔和注册重试间隔必须大于0")
	}
	if config.DNS.Port < 0 || config.DNS.Port > 65535 {
		return fmt.Errorf("DNS端口配置无效: %d", config.DNS.Port)
	}
	if config.DNS.TTL < 0 {
		return fmt.Errorf("DNS记录TTL不能为负数: %d", config.DNS.TTL)
	}
	return nil
}
