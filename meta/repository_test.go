package meta

import (
	"context"
	"testing"

	"github.com/hatlonely/dynschema/errs"
	"github.com/hatlonely/dynschema/rdb"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func newRepository(t *testing.T) *Repository {
	db, err := rdb.New(&rdb.Options{Driver: "sqlite"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rdb.Close(db) })
	repo := NewRepository(db)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return repo
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func TestTableHierarchy(t *testing.T) {
	Convey("表层级", t, func() {
		repo := newRepository(t)
		ctx := context.Background()

		site := &Table{Name: "site"}
		So(repo.Save(ctx, site), ShouldBeNil)
		host := &Table{Name: "host", ParentID: &site.ID}
		So(repo.Save(ctx, host), ShouldBeNil)
		nic := &Table{Name: "nic", ParentID: &host.ID}
		So(repo.Save(ctx, nic), ShouldBeNil)
		vlan := &Table{Name: "vlan", ParentID: &site.ID}
		So(repo.Save(ctx, vlan), ShouldBeNil)

		Convey("物理表名由名称和主键组成", func() {
			So(host.PhysicalName(), ShouldEqual, "auto_host_2")
		})

		Convey("Ancestors 从近到远", func() {
			ancestors, err := repo.Ancestors(ctx, nic)
			So(err, ShouldBeNil)
			So(ancestors, ShouldHaveLength, 2)
			So(ancestors[0].ID, ShouldEqual, host.ID)
			So(ancestors[1].ID, ShouldEqual, site.ID)
		})

		Convey("Path 与 Fullname 从根开始", func() {
			path, err := repo.Path(ctx, nic)
			So(err, ShouldBeNil)
			So(path[0].Name, ShouldEqual, "site")
			So(path[2].Name, ShouldEqual, "nic")

			name, err := repo.Fullname(ctx, nic)
			So(err, ShouldBeNil)
			So(name, ShouldEqual, "site.host.nic")
		})

		Convey("Children 与 TableByName", func() {
			children, err := repo.Children(ctx, &site.ID)
			So(err, ShouldBeNil)
			So(children, ShouldHaveLength, 2)

			roots, err := repo.Children(ctx, nil)
			So(err, ShouldBeNil)
			So(roots, ShouldHaveLength, 1)

			found, err := repo.TableByName(ctx, &site.ID, "vlan")
			So(err, ShouldBeNil)
			So(found.ID, ShouldEqual, vlan.ID)

			_, err = repo.TableByName(ctx, nil, "vlan")
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})

		Convey("Descendants 后代排在祖先之前", func() {
			tables, err := repo.Descendants(ctx, site.ID)
			So(err, ShouldBeNil)
			So(tables, ShouldHaveLength, 3)
			pos := map[int64]int{}
			for i, t := range tables {
				pos[t.ID] = i
			}
			So(pos[nic.ID], ShouldBeLessThan, pos[host.ID])
		})

		Convey("根表重名由 NameTaken 检测", func() {
			taken, err := repo.NameTaken(ctx, &Table{Name: "site"})
			So(err, ShouldBeNil)
			So(taken, ShouldBeTrue)

			taken, err = repo.NameTaken(ctx, site)
			So(err, ShouldBeNil)
			So(taken, ShouldBeFalse)

			taken, err = repo.NameTaken(ctx, &Table{Name: "host", ParentID: &vlan.ID})
			So(err, ShouldBeNil)
			So(taken, ShouldBeFalse)
		})

		Convey("环形层级被检测出来", func() {
			site.ParentID = &nic.ID
			So(repo.Save(ctx, site), ShouldBeNil)
			_, err := repo.Ancestors(ctx, nic)
			So(errors.Is(err, errs.ErrCircularReference), ShouldBeTrue)
			So(errors.Is(err, errs.ErrStructuralConflict), ShouldBeTrue)
		})

		Convey("不存在的表", func() {
			_, err := repo.Table(ctx, 99)
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestFieldsAndLinks(t *testing.T) {
	Convey("字段与 Link", t, func() {
		repo := newRepository(t)
		ctx := context.Background()

		host := &Table{Name: "host"}
		So(repo.Save(ctx, host), ShouldBeNil)
		nic := &Table{Name: "nic", ParentID: &host.ID}
		So(repo.Save(ctx, nic), ShouldBeNil)

		name := &Field{TableID: host.ID, Name: "name", Kind: KindText, Length: intPtr(32), Index: UniqueIndex}
		So(repo.Save(ctx, name), ShouldBeNil)
		addr := &Field{TableID: host.ID, Name: "addr", Kind: KindIP, Nullable: true}
		So(repo.Save(ctx, addr), ShouldBeNil)
		So(repo.Save(ctx, &Dynamic{FieldID: addr.ID, Code: `"10.0.0." + str(self._id)`}), ShouldBeNil)

		link := &Link{TableID: nic.ID, Basename: "host", Group: strPtr("a"), RelatedID: name.ID, Index: UniqueIndex}
		So(repo.Save(ctx, link), ShouldBeNil)

		Convey("Fields 预加载 Dynamic，隐藏列名生效", func() {
			fields, err := repo.Fields(ctx, host.ID)
			So(err, ShouldBeNil)
			So(fields, ShouldHaveLength, 2)
			So(fields[0].DBName(), ShouldEqual, "name")
			So(fields[1].Dynamic, ShouldNotBeNil)
			So(fields[1].DBName(), ShouldEqual, "_addr")
			So(fields[1].IndexName(), ShouldEqual, "idx2")
		})

		Convey("Link 继承被引用字段的类型", func() {
			l, err := repo.Link(ctx, link.ID)
			So(err, ShouldBeNil)
			So(l.AttrName(), ShouldEqual, "host_a")
			So(l.IndexName(), ShouldEqual, "lnk1")
			c, err := l.Column()
			So(err, ShouldBeNil)
			So(c.Name, ShouldEqual, "host_a")
			So(c.Length, ShouldEqual, 32)
			So(c.Nullable, ShouldBeFalse)
			So(l.DefaultValue(), ShouldEqual, "")
		})

		Convey("LinksTo 与 Uniques", func() {
			links, err := repo.LinksTo(ctx, name.ID)
			So(err, ShouldBeNil)
			So(links, ShouldHaveLength, 1)

			links, err = repo.LinksTo(ctx)
			So(err, ShouldBeNil)
			So(links, ShouldBeEmpty)

			uniques, err := repo.Uniques(ctx, host.ID)
			So(err, ShouldBeNil)
			So(uniques, ShouldHaveLength, 1)
			So(uniques[0].DBName(), ShouldEqual, "name")

			uniques, err = repo.Uniques(ctx, nic.ID)
			So(err, ShouldBeNil)
			So(uniques, ShouldHaveLength, 1)
			So(uniques[0].IndexName(), ShouldEqual, "lnk1")
		})

		Convey("Save 不级联保存关联对象", func() {
			f, err := repo.Field(ctx, addr.ID)
			So(err, ShouldBeNil)
			f.Dynamic.Code = "changed"
			f.Comment = "address"
			So(repo.Save(ctx, f), ShouldBeNil)
			d, err := repo.Dynamic(ctx, addr.ID)
			So(err, ShouldBeNil)
			So(d.Code, ShouldNotEqual, "changed")
		})

		Convey("Delete", func() {
			d, err := repo.Dynamic(ctx, addr.ID)
			So(err, ShouldBeNil)
			So(repo.Delete(ctx, d), ShouldBeNil)
			_, err = repo.Dynamic(ctx, addr.ID)
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestVariables(t *testing.T) {
	Convey("根命名空间变量", t, func() {
		repo := newRepository(t)
		ctx := context.Background()

		So(repo.Save(ctx, &Variable{Name: "domain", Value: "example.org"}), ShouldBeNil)
		So(repo.Save(ctx, &Variable{Name: "domain", Value: "example.com"}), ShouldBeNil)
		So(repo.Save(ctx, &Variable{Name: "asn", Value: "65000"}), ShouldBeNil)

		v, err := repo.Variable(ctx, "domain")
		So(err, ShouldBeNil)
		So(v.Value, ShouldEqual, "example.com")

		vars, err := repo.Variables(ctx)
		So(err, ShouldBeNil)
		So(vars, ShouldHaveLength, 2)
		So(vars[0].Name, ShouldEqual, "asn")

		_, err = repo.Variable(ctx, "missing")
		So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
	})
}
