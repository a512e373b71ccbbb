package xdbconf

import "errors"

// 配置加载相关错误。
var (
	// ErrEmptyPath 表示配置文件路径为空。
	ErrEmptyPath = errors.New("xdbconf: empty config path")

	// ErrUnsupportedFormat 表示不支持的配置格式。
	ErrUnsupportedFormat = errors.New("xdbconf: unsupported config format")

	// ErrLoadFailed 表示读取配置文件失败。
	ErrLoadFailed = errors.New("xdbconf: failed to load config")

	// ErrParseFailed 表示配置内容无法解析。
	ErrParseFailed = errors.New("xdbconf: failed to parse config")

	// ErrUnknownKey 表示配置中出现了连接池不认识的键。
	ErrUnknownKey = errors.New("xdbconf: unknown config key")
)
