package changelog

import (
	"fmt"
	"time"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Entry 一条已执行的语句
type Entry struct {
	ID     int64     `gorm:"primaryKey;column:id"`
	Major  int       `gorm:"column:major;not null"`
	Minor  int       `gorm:"column:minor;not null"`
	Rev    int       `gorm:"column:rev;not null"`
	Stamp  time.Time `gorm:"column:stamp;not null;index"`
	Batch  string    `gorm:"column:batch;size:36;index"`
	SQL    string    `gorm:"column:sql_text;type:text;not null"`
	Params []byte    `gorm:"column:params"`
}

func (Entry) TableName() string {
	return "meta_changelog"
}

func (e *Entry) Revision() Revision {
	return Revision{Major: e.Major, Minor: e.Minor, Rev: e.Rev}
}

// Marker 返回该条目对应的逻辑时钟
func (e *Entry) Marker() Marker {
	return Marker{ID: e.ID, Revision: e.Revision()}
}

// DecodeParams 解码绑定参数，没有参数时返回 nil
func (e *Entry) DecodeParams() ([]any, error) {
	if len(e.Params) == 0 {
		return nil, nil
	}
	var params []any
	if err := msgpack.Unmarshal(e.Params, &params); err != nil {
		return nil, errors.Wrapf(err, "failed to decode params of entry %d", e.ID)
	}
	return params, nil
}

// Statement 还原为可重新执行的语句
func (e *Entry) Statement() (ddl.Statement, error) {
	params, err := e.DecodeParams()
	if err != nil {
		return ddl.Statement{}, err
	}
	return ddl.Statement{SQL: e.SQL, Params: params}, nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s [%s] (%s)", e.Revision(), e.Stamp.Format(time.RFC3339), e.SQL)
}

func encodeParams(params []any) ([]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	buf, err := msgpack.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode params")
	}
	return buf, nil
}

// Marker 逻辑时钟：最新变更条目的主键及其版本号
// 只比较主键，版本号用于展示
type Marker struct {
	ID       int64
	Revision Revision
}

func (m Marker) Equal(o Marker) bool {
	return m.ID == o.ID
}

// IsZero 还没有观察过任何版本
func (m Marker) IsZero() bool {
	return m.ID == 0
}

func (m Marker) String() string {
	return fmt.Sprintf("%s#%d", m.Revision, m.ID)
}
