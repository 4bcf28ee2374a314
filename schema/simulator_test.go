package schema

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/pkg/errors"
)

// simulator 在内存中模拟 MySQL 对表、列、索引与外键的约束
// 作为 Recorder.Fail 使用，非法的语句序列在测试中表现为执行失败
type simulator struct {
	mu     sync.Mutex
	tables map[string]*simTable
}

type simTable struct {
	columns map[string]bool
	indexes map[string][]string
	unique  map[string]bool
	// fks 约束名到被引用的表
	fks map[string]string
}

func newSimulator() *simulator {
	return &simulator{tables: map[string]*simTable{}}
}

var (
	reCreate     = regexp.MustCompile(`(?s)^CREATE TABLE (\w+) \(\n(.*)\n\) ENGINE=`)
	reDropTable  = regexp.MustCompile(`^DROP TABLE (\w+)$`)
	reUpdate     = regexp.MustCompile(`^UPDATE (\w+) SET`)
	reAlter      = regexp.MustCompile(`^ALTER TABLE (\w+) (.*)$`)
	reRename     = regexp.MustCompile(`^RENAME TO (\w+)$`)
	reAddFK      = regexp.MustCompile(`^ADD CONSTRAINT (\w+) FOREIGN KEY \w+ \((\w+)\) REFERENCES (\w+) \(_id\)$`)
	reDropFK     = regexp.MustCompile(`^DROP FOREIGN KEY (\w+)$`)
	reAddIndex   = regexp.MustCompile(`^ADD (UNIQUE )?INDEX (\w+) \(([\w, ]+)\)$`)
	reDropIndex  = regexp.MustCompile(`^DROP INDEX (\w+)$`)
	reChange     = regexp.MustCompile(`^CHANGE COLUMN (\w+) (\w+) `)
	reModify     = regexp.MustCompile(`^MODIFY (\w+) `)
	reAddColumn  = regexp.MustCompile(`^ADD (\w+) `)
	reDropColumn = regexp.MustCompile(`^DROP (\w+)$`)
)

func (s *simulator) Fail(stmt ddl.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(stmt.SQL)
}

func (s *simulator) apply(sql string) error {
	if strings.HasPrefix(sql, "SELECT") {
		return nil
	}
	if m := reCreate.FindStringSubmatch(sql); m != nil {
		if _, ok := s.tables[m[1]]; ok {
			return errors.Errorf("table %s already exists", m[1])
		}
		t := &simTable{columns: map[string]bool{}, indexes: map[string][]string{}, unique: map[string]bool{}, fks: map[string]string{}}
		for _, line := range strings.Split(m[2], ",\n") {
			t.columns[strings.Fields(line)[0]] = true
		}
		s.tables[m[1]] = t
		return nil
	}
	if m := reDropTable.FindStringSubmatch(sql); m != nil {
		if _, ok := s.tables[m[1]]; !ok {
			return errors.Errorf("unknown table %s", m[1])
		}
		for name, t := range s.tables {
			for fk, ref := range t.fks {
				if ref == m[1] && name != m[1] {
					return errors.Errorf("cannot drop %s: referenced by %s.%s", m[1], name, fk)
				}
			}
		}
		delete(s.tables, m[1])
		return nil
	}
	if m := reUpdate.FindStringSubmatch(sql); m != nil {
		if _, ok := s.tables[m[1]]; !ok {
			return errors.Errorf("unknown table %s", m[1])
		}
		return nil
	}
	m := reAlter.FindStringSubmatch(sql)
	if m == nil {
		return errors.Errorf("unsupported statement: %s", sql)
	}
	t, ok := s.tables[m[1]]
	if !ok {
		return errors.Errorf("unknown table %s", m[1])
	}
	return s.alter(m[1], t, m[2])
}

func (s *simulator) alter(name string, t *simTable, action string) error {
	switch {
	case reRename.MatchString(action):
		to := reRename.FindStringSubmatch(action)[1]
		if _, ok := s.tables[to]; ok {
			return errors.Errorf("table %s already exists", to)
		}
		delete(s.tables, name)
		s.tables[to] = t
		for _, other := range s.tables {
			for fk, ref := range other.fks {
				if ref == name {
					other.fks[fk] = to
				}
			}
		}
	case reAddFK.MatchString(action):
		m := reAddFK.FindStringSubmatch(action)
		if _, ok := t.fks[m[1]]; ok {
			return errors.Errorf("duplicate foreign key %s", m[1])
		}
		if !t.columns[m[2]] {
			return errors.Errorf("unknown column %s", m[2])
		}
		if _, ok := s.tables[m[3]]; !ok {
			return errors.Errorf("unknown referenced table %s", m[3])
		}
		t.fks[m[1]] = m[3]
	case reDropFK.MatchString(action):
		fk := reDropFK.FindStringSubmatch(action)[1]
		if _, ok := t.fks[fk]; !ok {
			return errors.Errorf("unknown foreign key %s", fk)
		}
		delete(t.fks, fk)
	case reAddIndex.MatchString(action):
		m := reAddIndex.FindStringSubmatch(action)
		if _, ok := t.indexes[m[2]]; ok {
			return errors.Errorf("duplicate index %s", m[2])
		}
		columns := strings.Split(m[3], ", ")
		for _, c := range columns {
			if !t.columns[c] {
				return errors.Errorf("unknown column %s in index %s", c, m[2])
			}
		}
		t.indexes[m[2]] = columns
		t.unique[m[2]] = m[1] != ""
	case reDropIndex.MatchString(action):
		idx := reDropIndex.FindStringSubmatch(action)[1]
		if _, ok := t.indexes[idx]; !ok {
			return errors.Errorf("unknown index %s", idx)
		}
		if idx == ddl.ParentIndexName && len(t.fks) > 0 {
			return errors.Errorf("index %s is needed by a foreign key", idx)
		}
		delete(t.indexes, idx)
		delete(t.unique, idx)
	case reChange.MatchString(action):
		m := reChange.FindStringSubmatch(action)
		if !t.columns[m[1]] {
			return errors.Errorf("unknown column %s", m[1])
		}
		if m[1] != m[2] && t.columns[m[2]] {
			return errors.Errorf("duplicate column %s", m[2])
		}
		delete(t.columns, m[1])
		t.columns[m[2]] = true
		for idx, columns := range t.indexes {
			for i, c := range columns {
				if c == m[1] {
					t.indexes[idx][i] = m[2]
				}
			}
		}
	case reModify.MatchString(action):
		c := reModify.FindStringSubmatch(action)[1]
		if !t.columns[c] {
			return errors.Errorf("unknown column %s", c)
		}
	case reDropColumn.MatchString(action):
		c := reDropColumn.FindStringSubmatch(action)[1]
		if !t.columns[c] {
			return errors.Errorf("unknown column %s", c)
		}
		delete(t.columns, c)
		for idx, columns := range t.indexes {
			kept := columns[:0]
			for _, col := range columns {
				if col != c {
					kept = append(kept, col)
				}
			}
			if len(kept) == 0 {
				delete(t.indexes, idx)
				delete(t.unique, idx)
			} else {
				t.indexes[idx] = kept
			}
		}
	case reAddColumn.MatchString(action):
		c := reAddColumn.FindStringSubmatch(action)[1]
		if t.columns[c] {
			return errors.Errorf("duplicate column %s", c)
		}
		t.columns[c] = true
	default:
		return errors.Errorf("unsupported alter: %s", action)
	}
	return nil
}

func (s *simulator) columns(table string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(t.columns))
	for c := range t.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// index 返回索引覆盖的列与是否唯一，不存在时 columns 为 nil
func (s *simulator) index(table, name string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	return append([]string(nil), t.indexes[name]...), t.unique[name]
}

func (s *simulator) indexNames(table string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(t.indexes))
	for name := range t.indexes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *simulator) foreignKeys(table string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	out := map[string]string{}
	for k, v := range t.fks {
		out[k] = v
	}
	return out
}

func (s *simulator) has(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[table]
	return ok
}

func (s *simulator) snapshot() map[string]*simTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*simTable, len(s.tables))
	for name, t := range s.tables {
		c := &simTable{columns: map[string]bool{}, indexes: map[string][]string{}, unique: map[string]bool{}, fks: map[string]string{}}
		for k, v := range t.columns {
			c.columns[k] = v
		}
		for k, v := range t.indexes {
			c.indexes[k] = append([]string(nil), v...)
		}
		for k, v := range t.unique {
			c.unique[k] = v
		}
		for k, v := range t.fks {
			c.fks[k] = v
		}
		out[name] = c
	}
	return out
}

func (s *simulator) restore(tables map[string]*simTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = tables
}
