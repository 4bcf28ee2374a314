// Package uid 生成字符串形式的唯一 ID，变更日志用它标识同一次修改产生的一批语句
package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Options struct {
	// uuid 版本：v1, v4, v6, v7，v7 按时间递增
	Version string `cfg:"version" def:"v7" validate:"omitempty,oneof=v1 v4 v6 v7"`
	// Compact 去掉连字符，输出 32 个十六进制字符
	Compact bool `cfg:"compact"`
}

type Generator struct {
	version string
	compact bool
}

func NewGeneratorWithOptions(options *Options) (*Generator, error) {
	if options == nil {
		options = &Options{}
	}
	version := options.Version
	if version == "" {
		version = "v7"
	}
	switch version {
	case "v1", "v4", "v6", "v7":
	default:
		return nil, errors.Errorf("unsupported uuid version: %s", version)
	}
	return &Generator{version: version, compact: options.Compact}, nil
}

func (g *Generator) Generate() (string, error) {
	var u uuid.UUID
	var err error
	switch g.version {
	case "v1":
		u, err = uuid.NewUUID()
	case "v4":
		u, err = uuid.NewRandom()
	case "v6":
		u, err = uuid.NewV6()
	default:
		u, err = uuid.NewV7()
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to generate uuid %s", g.version)
	}

	if g.compact {
		return hex.EncodeToString(u[:]), nil
	}
	return u.String(), nil
}
