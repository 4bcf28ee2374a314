package cfg

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Load 从文件中加载配置到 object
// 根据文件后缀选择解码器：
//
//	.json -> encoding/json
//	.yaml/.yml -> yaml.v3
//	.toml -> BurntSushi/toml
//	.ini -> ini.v1
//
// 解码后依次应用 def 默认值和 validate 校验
func Load(filename string, object any) error {
	if filename == "" {
		return errors.New("filename cannot be empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", filename)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	return Unmarshal(format, data, object)
}

// Unmarshal 按格式解码配置数据
func Unmarshal(format string, data []byte, object any) error {
	tree, err := Decode(format, data)
	if err != nil {
		return err
	}
	if err := ConvertTo(tree, object); err != nil {
		return errors.WithMessage(err, "failed to convert config")
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "failed to set defaults")
	}
	return ValidateStruct(object)
}

// Decode 将配置数据解码为 map[string]any 树
func Decode(format string, data []byte) (map[string]any, error) {
	tree := map[string]any{}

	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&tree); err != nil {
			return nil, errors.Wrap(err, "failed to decode json")
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "failed to decode yaml")
		}
	case "toml":
		if _, err := toml.Decode(string(data), &tree); err != nil {
			return nil, errors.Wrap(err, "failed to decode toml")
		}
	case "ini":
		file, err := ini.Load(data)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode ini")
		}
		tree = iniToMap(file)
	default:
		return nil, errors.Errorf("unsupported config format: %q", format)
	}

	return tree, nil
}

// iniToMap 将 ini 文件转换为嵌套 map，节名中的点号表示层级
func iniToMap(file *ini.File) map[string]any {
	tree := map[string]any{}
	for _, section := range file.Sections() {
		node := tree
		if name := section.Name(); name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				child, ok := node[part].(map[string]any)
				if !ok {
					child = map[string]any{}
					node[part] = child
				}
				node = child
			}
		}
		for _, key := range section.Keys() {
			node[key.Name()] = key.Value()
		}
	}
	return tree
}
