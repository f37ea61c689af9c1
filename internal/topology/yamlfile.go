package topology

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML form of a network, used by ftthctl import/export.
type File struct {
	Items       []Item
	Connections []Connection
}

type fileDoc struct {
	Items       []fileItem   `yaml:"items"`
	Connections []Connection `yaml:"connections,omitempty"`
}

type fileItem struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name,omitempty"`
	Kind      Kind       `yaml:"item_type"`
	ParentID  *string    `yaml:"parent_id,omitempty"`
	Latitude  float64    `yaml:"latitude,omitempty"`
	Longitude float64    `yaml:"longitude,omitempty"`
	Status    Status     `yaml:"status,omitempty"`
	Config    *yaml.Node `yaml:"config,omitempty"`
}

// shapeDoc mirrors fileDoc with configs left opaque, so unknown keys outside config blocks are
// rejected without the strict decoder descending into them.
type shapeDoc struct {
	Items []struct {
		ID        string         `yaml:"id"`
		Name      string         `yaml:"name"`
		Kind      string         `yaml:"item_type"`
		ParentID  *string        `yaml:"parent_id"`
		Latitude  float64        `yaml:"latitude"`
		Longitude float64        `yaml:"longitude"`
		Status    string         `yaml:"status"`
		Config    any            `yaml:"config"`
	} `yaml:"items"`
	Connections []Connection `yaml:"connections"`
}

// ReadYAML parses a topology file. Configs are decoded into the variant named by item_type;
// normalisation happens when the items are loaded into a Graph.
func ReadYAML(r io.Reader) (File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return File{}, fmt.Errorf("read topology: %w", err)
	}
	if err := strictDecode(raw, &shapeDoc{}); err != nil {
		return File{}, fmt.Errorf("decode topology: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return File{}, fmt.Errorf("decode topology: %w", err)
	}

	out := File{Connections: doc.Connections}
	for i, fi := range doc.Items {
		kind, ok := ParseKind(string(fi.Kind))
		if !ok {
			return File{}, fmt.Errorf("%w: items[%d] (%s): unknown item_type %q", ErrInvalidItem, i, fi.ID, fi.Kind)
		}
		it := Item{
			ID:        fi.ID,
			Name:      fi.Name,
			Kind:      kind,
			ParentID:  fi.ParentID,
			Latitude:  fi.Latitude,
			Longitude: fi.Longitude,
			Status:    ParseStatus(string(fi.Status)),
		}
		if err := decodeYAMLConfig(&it, fi.Config); err != nil {
			return File{}, fmt.Errorf("items[%d] (%s): %w", i, fi.ID, err)
		}
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func strictDecode(raw []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func decodeYAMLConfig(it *Item, node *yaml.Node) error {
	var target any
	switch it.Kind {
	case KindServer:
		it.Server = &ServerConfig{}
		target = it.Server
	case KindOLT:
		it.OLT = &OLTConfig{}
		target = it.OLT
	case KindODC:
		it.ODC = &ODCConfig{}
		target = it.ODC
	case KindODP:
		it.ODP = &ODPConfig{}
		target = it.ODP
	case KindONU:
		it.ONU = &ONUConfig{}
		target = it.ONU
	case KindMikrotik:
		it.Mikrotik = &MikrotikConfig{}
		target = it.Mikrotik
	}
	if node == nil || node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("%w: %s config: %v", ErrInvalidItem, it.Kind, err)
	}
	if err := strictDecode(raw, target); err != nil {
		return fmt.Errorf("%w: %s config: %v", ErrInvalidItem, it.Kind, err)
	}
	return nil
}

// WriteYAML writes every item and connection of snap in id order.
func WriteYAML(w io.Writer, snap *Snapshot) error {
	doc := fileDoc{Connections: snap.Connections()}
	for _, it := range snap.Items() {
		fi := fileItem{
			ID:        it.ID,
			Name:      it.Name,
			Kind:      it.Kind,
			ParentID:  it.ParentID,
			Latitude:  it.Latitude,
			Longitude: it.Longitude,
			Status:    it.Status,
		}
		if cfg := it.Config(); cfg != nil {
			var node yaml.Node
			if err := node.Encode(cfg); err != nil {
				return fmt.Errorf("encode %s config: %w", it.ID, err)
			}
			fi.Config = &node
		}
		doc.Items = append(doc.Items, fi)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode topology: %w", err)
	}
	return enc.Close()
}
