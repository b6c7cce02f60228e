package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"citygrid.ai/internal/sim/city"
)

//go:embed buildings.schema.json
var buildingsSchemaJSON string

var buildingsSchema = jsonschema.MustCompileString("buildings.schema.json", buildingsSchemaJSON)

type Catalogs struct {
	Buildings BuildingCatalog
}

type BuildingCatalog struct {
	// Defs keeps authoring order, including the presentation fields.
	Defs   []BuildingDef
	ByType map[city.StructureType]city.StructureDef
	Digest string
}

type BuildingDef struct {
	Type        string     `json:"type"`
	DisplayName string     `json:"display_name,omitempty"`
	Prefab      string     `json:"prefab,omitempty"`
	Levels      []LevelDef `json:"levels"`
}

type LevelDef struct {
	Cost   []ResourceAmount `json:"cost"`
	Income []ResourceAmount `json:"income"`
}

type ResourceAmount struct {
	Resource string `json:"resource"`
	Amount   int    `json:"amount"`
}

type buildingsFile struct {
	Buildings []BuildingDef `json:"buildings"`
}

// Load reads buildings.json plus any extra definitions under buildings.d/.
// Later files override earlier entries of the same type.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBuildings(filepath.Join(configDir, "buildings.json"), filepath.Join(configDir, "buildings.d"), &c.Buildings); err != nil {
		return nil, err
	}
	return &c, nil
}

// Lookup makes *Catalogs a city.Catalog.
func (c *Catalogs) Lookup(t city.StructureType) (city.StructureDef, bool) {
	if c == nil {
		return city.StructureDef{}, false
	}
	d, ok := c.Buildings.ByType[t]
	return d, ok
}

// Def returns the authored definition, presentation fields included.
func (c *Catalogs) Def(t city.StructureType) (BuildingDef, bool) {
	for i := len(c.Buildings.Defs) - 1; i >= 0; i-- {
		d := c.Buildings.Defs[i]
		if pt, err := city.ParseStructureType(d.Type); err == nil && pt == t {
			return d, true
		}
	}
	return BuildingDef{}, false
}

func loadBuildings(path, extraDir string, out *BuildingCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var concat bytes.Buffer
	concat.Write(raw)

	defs, err := parseBuildings(raw)
	if err != nil {
		return fmt.Errorf("buildings.json: %w", err)
	}

	extra, err := listJSON(extraDir)
	if err != nil {
		return err
	}
	for _, p := range extra {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.WriteByte('\n')
		concat.Write(b)
		more, err := parseBuildings(b)
		if err != nil {
			return fmt.Errorf("buildings.d/%s: %w", filepath.Base(p), err)
		}
		defs = append(defs, more...)
	}

	byType, err := Compile(defs)
	if err != nil {
		return fmt.Errorf("buildings: %w", err)
	}
	out.Defs = defs
	out.ByType = byType
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

func parseBuildings(raw []byte) ([]BuildingDef, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := buildingsSchema.Validate(doc); err != nil {
		return nil, err
	}
	var f buildingsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f.Buildings, nil
}

// Compile turns authored definitions into city structure definitions. A type
// may appear more than once; the last definition wins.
func Compile(defs []BuildingDef) (map[city.StructureType]city.StructureDef, error) {
	out := make(map[city.StructureType]city.StructureDef, len(defs))
	for _, d := range defs {
		t, err := city.ParseStructureType(d.Type)
		if err != nil {
			return nil, err
		}
		levels := make([]city.LevelSpec, 0, len(d.Levels))
		for i, l := range d.Levels {
			cost, err := Normalize(l.Cost)
			if err != nil {
				return nil, fmt.Errorf("%s level %d cost: %w", t, i+1, err)
			}
			income, err := Normalize(l.Income)
			if err != nil {
				return nil, fmt.Errorf("%s level %d income: %w", t, i+1, err)
			}
			levels = append(levels, city.LevelSpec{Level: i + 1, Cost: cost, Income: income})
		}
		out[t] = city.StructureDef{Type: t, Levels: levels}
	}
	return out, nil
}

// Normalize drops non-positive amounts and sums repeated resources.
func Normalize(in []ResourceAmount) (city.Vector, error) {
	m := map[city.ResourceType]int{}
	for _, a := range in {
		if a.Amount <= 0 {
			continue
		}
		t, err := city.ParseResourceType(a.Resource)
		if err != nil {
			return city.Vector{}, err
		}
		m[t] += a.Amount
	}
	return city.NewVector(m)
}

func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
