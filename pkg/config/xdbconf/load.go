package xdbconf

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/omeyang/xdbkit/pkg/storage/xdbpool"
)

// Format 是配置文件格式。
type Format string

// 支持的配置格式。
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

const delim = "."

// Load 读取配置文件并返回校验后的连接池配置。
//
// 格式按扩展名识别（.yaml/.yml/.json）。文件中未出现的字段取 WithBase 指定的值，
// 默认 xdbpool.DefaultConfig。时长字段接受 "5s"、"1m30s" 形式的字符串。
// 结果非法时返回包装了 xdbpool.ErrInvalidConfig 的错误。
func Load(path string, opts ...Option) (xdbpool.Config, error) {
	if path == "" {
		return xdbpool.Config{}, ErrEmptyPath
	}
	format, err := DetectFormat(path)
	if err != nil {
		return xdbpool.Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return xdbpool.Config{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return LoadBytes(data, format, opts...)
}

// LoadBytes 从内存数据加载配置，语义同 Load。空数据得到默认配置。
func LoadBytes(data []byte, format Format, opts ...Option) (xdbpool.Config, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	parser, err := parserFor(format)
	if err != nil {
		return xdbpool.Config{}, err
	}

	k := koanf.New(delim)
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return xdbpool.Config{}, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}
	if o.key != "" {
		k = k.Cut(o.key)
	}
	if o.strict {
		if err := checkKeys(k); err != nil {
			return xdbpool.Config{}, err
		}
	}

	cfg := xdbpool.DefaultConfig()
	if o.base != nil {
		cfg = *o.base
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return xdbpool.Config{}, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if err := cfg.Validate(); err != nil {
		return xdbpool.Config{}, err
	}
	return cfg, nil
}

// Marshal 把配置编码为指定格式，时长字段输出为字符串。
// key 非空时嵌套在该路径下，与 WithKey 对应。
func Marshal(cfg xdbpool.Config, format Format, key string) ([]byte, error) {
	parser, err := parserFor(format)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if key != "" {
		prefix = key + delim
	}

	k := koanf.New(delim)
	v := reflect.ValueOf(cfg)
	for i, f := range fields() {
		val := v.Field(i).Interface()
		if d, ok := val.(time.Duration); ok {
			val = d.String()
		}
		if err := k.Set(prefix+f, val); err != nil {
			return nil, fmt.Errorf("xdbconf: set %s: %w", f, err)
		}
	}
	return k.Marshal(parser)
}

// DetectFormat 按文件扩展名识别格式。
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}

func parserFor(format Format) (koanf.Parser, error) {
	switch format {
	case FormatYAML:
		return yaml.Parser(), nil
	case FormatJSON:
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// fields 按结构体顺序返回 xdbpool.Config 各字段的 koanf 键。
func fields() []string {
	t := reflect.TypeFor[xdbpool.Config]()
	out := make([]string, t.NumField())
	for i := range out {
		out[i] = t.Field(i).Tag.Get("koanf")
	}
	return out
}

func checkKeys(k *koanf.Koanf) error {
	known := fields()
	var unknown []string
	for _, key := range k.Keys() {
		if !slices.Contains(known, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(unknown, ", "))
	}
	return nil
}
