// Copyright 2025 Greenmask
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/masking"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/registry"
	stringsUtils "github.com/greenmaskio/pgmaskdump/internal/utils/strings"
)

const (
	FormatText = "text"
	FormatYaml = "yaml"
	FormatJson = "json"
)

const maxWrapLength = 48

// Plan - what a dump would do, resolved against the live catalog
type Plan struct {
	// Tables - every enumerated relation including the ones that are not exported
	Tables []*registry.Table
	// Export - exported tables in the streaming order
	Export []*registry.Table
	Rules  []masking.Rule
}

// Plan - resolves tables and rules in the same transaction setup as Run and rolls back. Nothing is written
// and no rule is applied.
func (d *Dump) Plan(ctx context.Context) (p *Plan, err error) {
	if d.state != StateIdle {
		return nil, errAlreadyRun
	}
	defer func() {
		err = classifyRunError(ctx, err)
		if rbErr := d.rollback(ctx); rbErr != nil && err == nil {
			err = rbErr
		}
	}()

	if err = d.step(ctx, StateSessionOpen, func() error {
		return d.session.Begin(ctx)
	}); err != nil {
		return nil, err
	}

	tables, rules, err := d.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve dump plan: %w", err)
	}
	return &Plan{
		Tables: tables,
		Export: registry.ExportOrder(tables, rules.Tables(), d.migrations),
		Rules:  rules.Rules(),
	}, nil
}

type planTable struct {
	Order    int    `json:"order,omitempty" yaml:"order,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Masked   bool   `json:"masked" yaml:"masked"`
	Excluded bool   `json:"excluded" yaml:"excluded"`
}

type planRule struct {
	Table       string            `json:"table" yaml:"table"`
	Kind        string            `json:"kind" yaml:"kind"`
	Assignments map[string]string `json:"assignments,omitempty" yaml:"assignments,omitempty"`
}

type planDocument struct {
	Tables []planTable `json:"tables" yaml:"tables"`
	Rules  []planRule  `json:"rules" yaml:"rules"`
}

func (p *Plan) document() *planDocument {
	order := make(map[string]int, len(p.Export))
	for idx, t := range p.Export {
		order[t.Name.Key()] = idx + 1
	}
	doc := &planDocument{
		Tables: make([]planTable, 0, len(p.Tables)),
		Rules:  make([]planRule, 0, len(p.Rules)),
	}
	for _, t := range p.Tables {
		doc.Tables = append(doc.Tables, planTable{
			Order:    order[t.Name.Key()],
			Name:     t.Name.String(),
			Kind:     string(t.Kind),
			Masked:   t.HasOverride,
			Excluded: t.Excluded,
		})
	}
	for _, r := range p.Rules {
		pr := planRule{Table: r.Table().String(), Kind: string(r.Kind())}
		if a := r.Assignments(); len(a) > 0 {
			pr.Assignments = make(map[string]string, len(a))
			for _, item := range a {
				pr.Assignments[item.Column] = item.Value
			}
		}
		doc.Rules = append(doc.Rules, pr)
	}
	return doc
}

// Print - writes the plan in one of the formats: text, json or yaml
func (p *Plan) Print(w io.Writer, format string) error {
	doc := p.document()
	switch format {
	case FormatJson:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYaml:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(doc)
	case FormatText, "":
		p.printText(w, doc)
		return nil
	}
	return fmt.Errorf("unknown format \"%s\"", format)
}

func (p *Plan) printText(w io.Writer, doc *planDocument) {
	tables := tablewriter.NewWriter(w)
	tables.SetHeader([]string{"Order", "Table", "Kind", "Masked", "Excluded"})
	tables.SetAutoWrapText(false)
	for _, t := range doc.Tables {
		order := "-"
		if t.Order > 0 {
			order = strconv.Itoa(t.Order)
		}
		tables.Append([]string{
			order, t.Name, t.Kind, strconv.FormatBool(t.Masked), strconv.FormatBool(t.Excluded),
		})
	}
	tables.Render()

	if len(doc.Rules) == 0 {
		return
	}
	rules := tablewriter.NewWriter(w)
	rules.SetHeader([]string{"Table", "Rule", "Column", "Value"})
	rules.SetAutoWrapText(false)
	rules.SetRowLine(true)
	rules.SetAutoMergeCellsByColumnIndex([]int{0, 1})
	for _, r := range p.Rules {
		assignments := r.Assignments()
		if len(assignments) == 0 {
			rules.Append([]string{r.Table().String(), string(r.Kind()), "", ""})
			continue
		}
		for _, a := range assignments {
			rules.Append([]string{
				r.Table().String(), string(r.Kind()), a.Column, stringsUtils.WrapString(a.Value, maxWrapLength),
			})
		}
	}
	rules.Render()
}
