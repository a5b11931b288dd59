package rmi

// Component names one of the three well-known endpoints or a user-specified
// remote object.
type Component int

const (
	ComponentCustom Component = iota
	ComponentRegistry
	ComponentDGC
	ComponentActivator
)

// Well-known interface hashes of the legacy calling convention.
const (
	RegistryInterfaceHash int64 = 4905912898345647071
	DGCInterfaceHash      int64 = -669196253586618813
)

// CallForAnyOperation is the operation number of the modern calling
// convention, where the hash field selects the method.
const CallForAnyOperation int32 = -1

// Method is one entry of a component's method table. Legacy methods carry an
// operation index and the component's interface hash; modern methods carry
// operation -1 and their own method hash.
type Method struct {
	Name      string
	Operation int32
	Hash      int64
}

var registryMethods = map[string]Method{
	"bind":   {Name: "bind", Operation: 0, Hash: RegistryInterfaceHash},
	"list":   {Name: "list", Operation: 1, Hash: RegistryInterfaceHash},
	"lookup": {Name: "lookup", Operation: 2, Hash: RegistryInterfaceHash},
	"rebind": {Name: "rebind", Operation: 3, Hash: RegistryInterfaceHash},
	"unbind": {Name: "unbind", Operation: 4, Hash: RegistryInterfaceHash},
}

var dgcMethods = map[string]Method{
	"clean": {Name: "clean", Operation: 0, Hash: DGCInterfaceHash},
	"dirty": {Name: "dirty", Operation: 1, Hash: DGCInterfaceHash},
}

// The activator has no legacy skeleton; its single method is dispatched by
// hash. Deriving the hash here keeps it consistent with the guesser's
// derivation path.
var activatorMethods = map[string]Method{
	"activate": {
		Name:      "activate",
		Operation: CallForAnyOperation,
		Hash:      mustHash("java.rmi.MarshalledObject activate(java.rmi.activation.ActivationID id, boolean force)"),
	},
}

func mustHash(signature string) int64 {
	sig, err := ParseSignature(signature)
	if err != nil {
		panic(err)
	}
	return sig.Hash()
}

func (c Component) String() string {
	switch c {
	case ComponentRegistry:
		return "registry"
	case ComponentDGC:
		return "dgc"
	case ComponentActivator:
		return "activator"
	default:
		return "custom"
	}
}

// ShortName is the operator-facing component selector.
func (c Component) ShortName() string {
	switch c {
	case ComponentRegistry:
		return "reg"
	case ComponentDGC:
		return "dgc"
	case ComponentActivator:
		return "act"
	default:
		return ""
	}
}

// ParseComponent resolves an operator-supplied component selector.
func ParseComponent(s string) (Component, error) {
	switch s {
	case "reg", "registry":
		return ComponentRegistry, nil
	case "dgc":
		return ComponentDGC, nil
	case "act", "activator":
		return ComponentActivator, nil
	default:
		return ComponentCustom, Validationf("unsupported component %q, supported values are act, dgc and reg", s)
	}
}

// ObjID returns the fixed object identifier of a well-known component. Custom
// components have no fixed identifier; the caller supplies one.
func (c Component) ObjID() ObjID {
	switch c {
	case ComponentRegistry:
		return WellKnownObjID(RegistryNumber)
	case ComponentDGC:
		return WellKnownObjID(DGCNumber)
	case ComponentActivator:
		return WellKnownObjID(ActivatorNumber)
	default:
		return ObjID{}
	}
}

// Method resolves a named entry from the component's fixed method table.
func (c Component) Method(name string) (Method, bool) {
	var table map[string]Method
	switch c {
	case ComponentRegistry:
		table = registryMethods
	case ComponentDGC:
		table = dgcMethods
	case ComponentActivator:
		table = activatorMethods
	default:
		return Method{}, false
	}
	m, ok := table[name]
	return m, ok
}

// MethodNames lists the component's method table, for error messages.
func (c Component) MethodNames() []string {
	switch c {
	case ComponentRegistry:
		return []string{"bind", "list", "lookup", "rebind", "unbind"}
	case ComponentDGC:
		return []string{"clean", "dirty"}
	case ComponentActivator:
		return []string{"activate"}
	default:
		return nil
	}
}
