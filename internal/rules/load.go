package rules

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/uscpte7/CAN-Bus1/internal/can"
	"github.com/uscpte7/CAN-Bus1/internal/crc8"
)

// File is the YAML layout of a rules file:
//
//	routes: {1: 2, 2: 1}
//	blacklist: [0x59E]
//	rewrite:
//	  - id: 0x1DC
//	    set: {0: 0xFF, 1: 0xFF, 2: 0xFF, 3: 0xFF, 4: 0x1F, 5: 0xFF, 6: 0xFC}
//	    checksum: true
type File struct {
	Routes    map[int]int   `yaml:"routes"`
	Blacklist []hexValue    `yaml:"blacklist"`
	Rewrite   []RewriteFile `yaml:"rewrite"`
}

// RewriteFile is one rewrite entry of a rules file.
type RewriteFile struct {
	ID       hexValue         `yaml:"id"`
	Set      map[int]hexValue `yaml:"set"`
	Checksum bool             `yaml:"checksum"`
}

// hexValue accepts decimal or 0x-prefixed scalars.
type hexValue uint64

func (h *hexValue) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", n.Line)
	}
	v, err := strconv.ParseUint(n.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*h = hexValue(v)
	return nil
}

// Load reads and validates a rules file. Sections missing from the file keep
// their compiled-in defaults.
func Load(path string) (*Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(b)
}

// Parse decodes rules from YAML.
func Parse(b []byte) (*Set, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s := Default()
	if f.Routes != nil {
		s.Routes = f.Routes
	}
	if f.Blacklist != nil {
		s.Blacklist = make(map[uint32]bool, len(f.Blacklist))
		for _, id := range f.Blacklist {
			s.Blacklist[uint32(id)] = true
		}
	}
	if f.Rewrite != nil {
		s.Rewrite = make(map[uint32]Rule, len(f.Rewrite))
		for _, rw := range f.Rewrite {
			var r Rule
			for pos, v := range rw.Set {
				if pos < 0 || pos >= can.MaxLen {
					return nil, fmt.Errorf("%w: rewrite 0x%X: byte position %d", ErrInvalid, rw.ID, pos)
				}
				if rw.Checksum && pos == crc8.Index {
					return nil, fmt.Errorf("%w: rewrite 0x%X: byte %d holds the checksum", ErrInvalid, rw.ID, pos)
				}
				if v > 0xFF {
					return nil, fmt.Errorf("%w: rewrite 0x%X: value 0x%X is not a byte", ErrInvalid, rw.ID, v)
				}
				r.Mask[pos] = true
				r.Data[pos] = byte(v)
			}
			r.Checksum = rw.Checksum
			s.Rewrite[uint32(rw.ID)] = r
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
