package configql

import (
	"encoding/json"
	"sort"

	"github.com/helixdb/helix/catalog"
	"github.com/helixdb/helix/configql/ast"
	"github.com/helixdb/helix/errs"
)

// ConfigModule is the module all configuration schema objects live in.
const ConfigModule = "cfg"

// RootConfigType is the root configuration object exposing every setting.
var RootConfigType = catalog.Name{Module: ConfigModule, Name: "AbstractConfig"}

// Annotation names carrying setting metadata.
var (
	annSystem             = catalog.Name{Module: ConfigModule, Name: "system"}
	annRequiresRestart    = catalog.Name{Module: ConfigModule, Name: "requires_restart"}
	annBackendSetting     = catalog.Name{Module: ConfigModule, Name: "backend_setting"}
	annAffectsCompilation = catalog.Name{Module: ConfigModule, Name: "affects_compilation"}
)

// SettingInfo is the resolved identity and metadata of a configuration
// setting. It is a pure function of the catalog snapshot.
type SettingInfo struct {
	Name               string
	Type               catalog.Type
	Cardinality        catalog.Cardinality
	RequiresRestart    bool
	BackendSetting     string
	AffectsCompilation bool
}

// Resolve validates the setting named by stmt against the catalog and
// returns its metadata. For SET and RESET the name is first tried as a
// scalar parameter on the root configuration object; RESET and INSERT
// additionally accept the name of a configuration object type reachable
// from the root.
func Resolve(schema catalog.Schema, stmt ast.ConfigStmt) (SettingInfo, error) {
	ref := stmt.SettingRef()
	if ref.Module != "" && ref.Module != ConfigModule {
		return SettingInfo{}, errs.Queryf(
			"invalid configuration parameter name: module must be either 'cfg' or empty")
	}

	rootType, ok := schema.LookupType(RootConfigType)
	if !ok {
		return SettingInfo{}, errs.Configurationf(
			"configuration root object %s is not present in the catalog", RootConfigType)
	}
	root := rootType.(catalog.ObjectType)

	name := ref.Name
	var ptr catalog.Pointer
	var cfgType catalog.Type

	// SET and RESET name a property of the root config object directly.
	switch stmt.(type) {
	case *ast.ConfigSet, *ast.ConfigReset:
		if p, ok := schema.Pointer(root, name); ok {
			ptr = p
			cfgType = p.Target()
		}
	}

	if cfgType == nil {
		if _, isSet := stmt.(*ast.ConfigSet); isSet {
			return SettingInfo{}, errs.Configurationf(
				"unrecognized configuration parameter %q", name)
		}

		// The statement names a configuration object type.
		t, ok := schema.LookupType(catalog.Name{Module: ConfigModule, Name: name})
		if !ok || !t.IsObject() {
			return SettingInfo{}, errs.Configurationf(
				"unrecognized configuration object %q", name)
		}
		obj := t.(catalog.ObjectType)
		cfgType = t

		link, err := resolveObjectSetting(schema, obj, root)
		if err != nil {
			return SettingInfo{}, err
		}
		ptr = link
		name = ptr.PointerName()
	}

	system := annotationBool(ptr, annSystem)
	requiresRestart := annotationBool(ptr, annRequiresRestart)

	var backendSetting string
	if raw, ok := ptr.Annotation(annBackendSetting); ok {
		if err := json.Unmarshal([]byte(raw), &backendSetting); err != nil {
			return SettingInfo{}, errs.Configurationf(
				"malformed cfg::backend_setting annotation on %q", name)
		}
	}

	affectsCompilation := false
	if raw, ok := ptr.Annotation(annAffectsCompilation); ok {
		if err := json.Unmarshal([]byte(raw), &affectsCompilation); err != nil {
			return SettingInfo{}, errs.Configurationf(
				"malformed cfg::affects_compilation annotation on %q", name)
		}
	}

	if system && stmt.ConfigScope() != ast.ScopeInstance {
		return SettingInfo{}, errs.Configurationf(
			"%q is a system-level configuration parameter; use \"CONFIGURE INSTANCE\"", name)
	}

	return SettingInfo{
		Name:               name,
		Type:               cfgType,
		Cardinality:        ptr.PointerCardinality(),
		RequiresRestart:    requiresRestart,
		BackendSetting:     backendSetting,
		AffectsCompilation: affectsCompilation,
	}, nil
}

// resolveObjectSetting finds the link through which obj is configured:
// walking obj's ancestor chain most-derived first, the first ancestor with
// any link targeting it wins; among multiple links on the same ancestor,
// candidates are ordered by source type name then link name and the first
// is taken. The chosen link's source must be under the root configuration
// object.
func resolveObjectSetting(
	schema catalog.Schema,
	obj catalog.ObjectType,
	root catalog.ObjectType,
) (catalog.Pointer, error) {
	mro := append([]catalog.ObjectType{obj}, schema.Ancestors(obj)...)

	var candidate catalog.Pointer
	for _, ct := range mro {
		ptrs := schema.Referrers(ct)
		if len(ptrs) == 0 {
			continue
		}
		sorted := make([]catalog.Pointer, len(ptrs))
		copy(sorted, ptrs)
		sort.Slice(sorted, func(i, j int) bool {
			si := sorted[i].Source().TypeName().String()
			sj := sorted[j].Source().TypeName().String()
			if si != sj {
				return si < sj
			}
			return sorted[i].PointerName() < sorted[j].PointerName()
		})
		candidate = sorted[0]
		break
	}

	if candidate == nil || !schema.IsSubclass(candidate.Source(), root) {
		return nil, errs.Configurationf(
			"%q cannot be configured directly", obj.TypeName().Name)
	}
	return candidate, nil
}

func annotationBool(ptr catalog.Pointer, name catalog.Name) bool {
	v, ok := ptr.Annotation(name)
	return ok && v == "true"
}
