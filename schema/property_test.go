package schema

import (
	"reflect"
	"sort"
	"testing"

	"github.com/hatlonely/dynschema/meta"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type attributeCase struct {
	Name     string
	Nullable bool
	Index    meta.IndexKind
}

func genAttributes() gopter.Gen {
	return gen.SliceOfN(6, gopter.CombineGens(
		gen.Identifier(),
		gen.Bool(),
		gen.IntRange(0, 2),
	).Map(func(values []any) attributeCase {
		name := values[0].(string)
		if len(name) > meta.IdentifierLength {
			name = name[:meta.IdentifierLength]
		}
		return attributeCase{Name: name, Nullable: values[1].(bool), Index: meta.IndexKind(values[2].(int))}
	})).Map(func(cases []attributeCase) []attributeCase {
		seen := map[string]bool{}
		var out []attributeCase
		for _, c := range cases {
			if c.Name != "" && !seen[c.Name] {
				seen[c.Name] = true
				out = append(out, c)
			}
		}
		return out
	})
}

func TestSchemaProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	// 物理列集合总是等于固定列加上声明的属性
	properties.Property("model columns match declared attributes and physical table", prop.ForAll(
		func(cases []attributeCase, parented bool) bool {
			h := newHarness(t)
			site := &meta.Table{Name: "site"}
			if err := h.m.SaveTable(h.ctx, site); err != nil {
				t.Log(err)
				return false
			}
			host := &meta.Table{Name: "host"}
			if parented {
				host.ParentID = &site.ID
			}
			if err := h.m.SaveTable(h.ctx, host); err != nil {
				t.Log(err)
				return false
			}
			expected := []string{"_annotations", "_id"}
			if parented {
				expected = append(expected, "_up_id")
			}
			for _, c := range cases {
				f := &meta.Field{TableID: host.ID, Name: c.Name, Kind: meta.KindInteger, Nullable: c.Nullable, Index: c.Index}
				if err := h.m.SaveField(h.ctx, f); err != nil {
					t.Log(err)
					return false
				}
				expected = append(expected, c.Name)
			}
			sort.Strings(expected)

			m, err := h.m.Cache().Get(h.ctx, host.ID)
			if err != nil {
				t.Log(err)
				return false
			}
			return reflect.DeepEqual(m.ColumnNames(), expected) &&
				reflect.DeepEqual(h.sim.columns(host.PhysicalName()), expected)
		},
		genAttributes(),
		gen.Bool(),
	))

	// 挂接再摘下后物理结构不变，唯一索引不残留 _up_id
	properties.Property("attach then detach restores the physical table", prop.ForAll(
		func(cases []attributeCase) bool {
			h := newHarness(t)
			site := &meta.Table{Name: "site"}
			rack := &meta.Table{Name: "rack"}
			for _, tbl := range []*meta.Table{site, rack} {
				if err := h.m.SaveTable(h.ctx, tbl); err != nil {
					t.Log(err)
					return false
				}
			}
			for _, c := range cases {
				f := &meta.Field{TableID: rack.ID, Name: c.Name, Kind: meta.KindIP, Nullable: c.Nullable, Index: c.Index}
				if err := h.m.SaveField(h.ctx, f); err != nil {
					t.Log(err)
					return false
				}
			}
			before := h.sim.snapshot()[rack.PhysicalName()]

			rack.ParentID = &site.ID
			if err := h.m.SaveTable(h.ctx, rack); err != nil {
				t.Log(err)
				return false
			}
			attached := h.sim.snapshot()[rack.PhysicalName()]
			for name, unique := range attached.unique {
				columns := attached.indexes[name]
				if unique && columns[len(columns)-1] != "_up_id" {
					t.Logf("unique index %s is not scoped to the parent: %v", name, columns)
					return false
				}
			}

			rack.ParentID = nil
			if err := h.m.SaveTable(h.ctx, rack); err != nil {
				t.Log(err)
				return false
			}
			after := h.sim.snapshot()[rack.PhysicalName()]
			fields, err := h.m.Repository().Fields(h.ctx, rack.ID)
			if err != nil {
				t.Log(err)
				return false
			}
			for i, f := range fields {
				if f.Index != cases[i].Index {
					t.Logf("field %s index %s, expected %s", f.Name, f.Index, cases[i].Index)
					return false
				}
			}
			return reflect.DeepEqual(before.columns, after.columns) &&
				reflect.DeepEqual(before.indexes, after.indexes) &&
				reflect.DeepEqual(before.unique, after.unique) &&
				len(after.fks) == 0
		},
		genAttributes(),
	))

	properties.TestingRun(t)
}
