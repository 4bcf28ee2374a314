package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testDatabaseOptions struct {
	Driver   string        `cfg:"driver" def:"mysql" validate:"oneof=mysql sqlite"`
	DSN      string        `cfg:"dsn"`
	MaxConns int           `cfg:"maxConns" def:"10"`
	Timeout  time.Duration `cfg:"timeout" def:"3s"`
}

type testOptions struct {
	Name     string              `cfg:"name" validate:"required"`
	Database testDatabaseOptions `cfg:"database"`
	Tags     []string            `cfg:"tags" def:"a,b"`
	Fields   map[string]any      `cfg:"fields"`
}

func writeFile(t *testing.T, name string, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Load", t, func() {
		Convey("yaml 文件", func() {
			path := writeFile(t, "app.yaml", `
name: inventory
database:
  driver: sqlite
  dsn: "file::memory:"
  timeout: 5s
fields:
  env: test
`)
			var options testOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Name, ShouldEqual, "inventory")
			So(options.Database.Driver, ShouldEqual, "sqlite")
			So(options.Database.Timeout, ShouldEqual, 5*time.Second)
			So(options.Database.MaxConns, ShouldEqual, 10)
			So(options.Tags, ShouldResemble, []string{"a", "b"})
			So(options.Fields["env"], ShouldEqual, "test")
		})

		Convey("toml 文件", func() {
			path := writeFile(t, "app.toml", `
name = "inventory"
[database]
maxConns = 3
`)
			var options testOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Database.Driver, ShouldEqual, "mysql")
			So(options.Database.MaxConns, ShouldEqual, 3)
		})

		Convey("json 文件", func() {
			path := writeFile(t, "app.json", `{"name": "inventory", "database": {"maxConns": 7, "timeout": "1m"}}`)
			var options testOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Database.MaxConns, ShouldEqual, 7)
			So(options.Database.Timeout, ShouldEqual, time.Minute)
		})

		Convey("ini 文件", func() {
			path := writeFile(t, "app.ini", `
name = inventory

[database]
driver = sqlite
maxConns = 2
`)
			var options testOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.Database.Driver, ShouldEqual, "sqlite")
			So(options.Database.MaxConns, ShouldEqual, 2)
		})

		Convey("校验失败", func() {
			path := writeFile(t, "app.yaml", "database:\n  driver: oracle\n")
			var options testOptions
			So(Load(path, &options), ShouldNotBeNil)
		})

		Convey("不支持的后缀", func() {
			path := writeFile(t, "app.xml", "<name/>")
			var options testOptions
			So(Load(path, &options), ShouldNotBeNil)
		})

		Convey("文件名为空", func() {
			So(Load("", &testOptions{}), ShouldNotBeNil)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("SetDefaults 只覆盖零值", t, func() {
		options := testOptions{Database: testDatabaseOptions{Driver: "sqlite"}}
		So(SetDefaults(&options), ShouldBeNil)
		So(options.Database.Driver, ShouldEqual, "sqlite")
		So(options.Database.MaxConns, ShouldEqual, 10)

		So(SetDefaults(nil), ShouldNotBeNil)
		So(SetDefaults(options), ShouldNotBeNil)
	})
}
