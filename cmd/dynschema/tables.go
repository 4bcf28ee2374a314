package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hatlonely/dynschema/ddl"
	"github.com/hatlonely/dynschema/model"
	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the table hierarchy with physical names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printTree(cmd, cmd.OutOrStdout(), nil, 0)
	},
}

func printTree(cmd *cobra.Command, w io.Writer, parent *model.Model, depth int) error {
	children, err := manager.Cache().Children(cmd.Context(), parent)
	if err != nil {
		return err
	}
	for _, m := range children {
		fmt.Fprintf(w, "%s%s\t%s\t%s\n", strings.Repeat("  ", depth), m.Name, m.PhysicalName(), strings.Join(m.AttributeNames(), ","))
		if err := printTree(cmd, w, m, depth+1); err != nil {
			return err
		}
	}
	return nil
}

type tableView struct {
	ID           int64             `json:"id"`
	Fullname     string            `json:"fullname"`
	PhysicalName string            `json:"physicalName"`
	Comment      string            `json:"comment,omitempty"`
	Identity     []string          `json:"identity"`
	Attributes   map[string]string `json:"attributes"`
	Columns      []ddl.ColumnSpec  `json:"columns"`
}

var showCmd = &cobra.Command{
	Use:   "show <fullname>",
	Short: "Show the model of a table, e.g. site.host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var m *model.Model
		for _, name := range strings.Split(args[0], ".") {
			child, err := manager.Cache().Child(cmd.Context(), m, name)
			if err != nil {
				return err
			}
			m = child
		}
		buf, err := json.MarshalIndent(tableView{
			ID:           m.ID,
			Fullname:     m.Fullname,
			PhysicalName: m.PhysicalName(),
			Comment:      m.Comment,
			Identity:     m.Identity,
			Attributes:   m.Attribs,
			Columns:      m.Columns,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(buf))
		return nil
	},
}
