package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hatlonely/dynschema/changelog"
	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/meta"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	filename := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func TestNewManagerWithConfig(t *testing.T) {
	Convey("从配置文件创建", t, func() {
		ctx := context.Background()

		Convey("yaml", func() {
			m, err := NewManagerWithConfig(writeConfig(t, "schema.yaml", `
database:
  driver: sqlite
logger:
  level: error
watch:
  interval: 20ms
enableMetrics: true
`))
			So(err, ShouldBeNil)
			defer m.Close()
			So(m.Migrate(ctx), ShouldBeNil)

			Convey("不需要 DDL 的修改直接在数据库上执行并记录", func() {
				So(m.SaveVariable(ctx, &meta.Variable{Name: "domain", Value: "example.org"}), ShouldBeNil)
				history, err := m.Changelog().History(ctx, 1)
				So(err, ShouldBeNil)
				So(history, ShouldHaveLength, 1)
				So(history[0].SQL, ShouldEqual, "SELECT ?")
				params, err := history[0].DecodeParams()
				So(err, ShouldBeNil)
				So(params, ShouldResemble, []any{"variable domain"})
			})

			Convey("sqlite 拒绝 MySQL 建表语句时元数据一并回滚", func() {
				site := &meta.Table{Name: "site"}
				err := m.SaveTable(ctx, site)
				So(errors.Is(err, errs.ErrDDLExecution), ShouldBeTrue)
				So(site.ID, ShouldEqual, 0)
				_, err = m.Repository().TableByName(ctx, nil, "site")
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			})

			Convey("后台轮询发现变更", func() {
				first := make(chan changelog.Marker, 1)
				second := make(chan changelog.Marker, 1)
				notify := func(ch chan changelog.Marker) func(changelog.Marker) {
					return func(marker changelog.Marker) {
						select {
						case ch <- marker:
						default:
						}
					}
				}

				w, err := m.Watch(ctx, notify(first))
				So(err, ShouldBeNil)
				again, err := m.Watch(ctx, notify(second))
				So(err, ShouldBeNil)
				So(again, ShouldPointTo, w)
				start := w.LastSeen()

				So(m.SaveVariable(ctx, &meta.Variable{Name: "domain", Value: "example.com"}), ShouldBeNil)
				for _, ch := range []chan changelog.Marker{first, second} {
					var marker changelog.Marker
					select {
					case marker = <-ch:
					case <-time.After(2 * time.Second):
					}
					So(marker.IsZero(), ShouldBeFalse)
					So(marker.Equal(start), ShouldBeFalse)
				}
			})
		})

		Convey("toml", func() {
			m, err := NewManagerWithConfig(writeConfig(t, "schema.toml", `
enableMetrics = false

[database]
driver = "sqlite"

[logger]
level = "error"

[generator]
engine = "InnoDB"
charset = "utf8mb4"
`))
			So(err, ShouldBeNil)
			So(m.Close(), ShouldBeNil)
		})

		Convey("不支持的驱动", func() {
			_, err := NewManagerWithConfig(writeConfig(t, "schema.json", `{"database": {"driver": "postgres"}}`))
			So(err, ShouldNotBeNil)
		})

		Convey("文件不存在", func() {
			_, err := NewManagerWithConfig(filepath.Join(t.TempDir(), "missing.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewManagerWithOptions(nil)
	assert.Error(t, err)
}
