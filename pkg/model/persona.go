package model

// Persona names the assistant and the store it serves. It is rendered into every prompt.
type Persona struct {
	AssistantName string `yaml:"assistant_name" json:"assistant_name"`
	StoreName     string `yaml:"store_name" json:"store_name"`
	StoreKind     string `yaml:"store_kind" json:"store_kind"`
	Topics        string `yaml:"topics" json:"topics"`
}

func DefaultPersona() Persona {
	return Persona{
		AssistantName: "Camucha",
		StoreName:     "Camuchapp",
		StoreKind:     "tienda de ropa",
		Topics:        "ropa, moda, estilo, compras, la tienda, horarios o atención al cliente",
	}
}
