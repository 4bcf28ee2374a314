package meta

import (
	"github.com/hatlonely/dynschema/ddl"
)

// Kind 字段类型
type Kind string

const (
	KindText    Kind = "text"
	KindInteger Kind = "integer"
	KindIP      Kind = "ip"
)

// KindInfo 字段类型的描述
type KindInfo struct {
	Verbose    string
	Default    any // 零值，NOT NULL 列回填时使用
	ColumnType ddl.ColumnType
	// 需要 Length 参数
	NeedsLength bool
}

// Kinds 已注册的字段类型，新增类型时在此登记
var Kinds = map[Kind]KindInfo{
	KindText:    {Verbose: "text", Default: "", ColumnType: ddl.TypeText, NeedsLength: true},
	KindInteger: {Verbose: "number", Default: 0, ColumnType: ddl.TypeInteger},
	KindIP:      {Verbose: "IP", Default: "", ColumnType: ddl.TypeIP},
}

// IndexKind 索引类型
type IndexKind int

const (
	NoIndex IndexKind = iota
	UniqueIndex
	MultipleIndex
)

func (k IndexKind) String() string {
	switch k {
	case NoIndex:
		return "none"
	case UniqueIndex:
		return "unique"
	case MultipleIndex:
		return "multiple"
	default:
		return "unknown"
	}
}
