package config

// File is the on-disk policy document.
type File struct {
	EntityTypes []EntityTypeDoc `yaml:"entityTypes" validate:"required,min=1,dive"`
}

type EntityTypeDoc struct {
	Name   string     `yaml:"name" validate:"required"`
	Fields []FieldDoc `yaml:"fields" validate:"dive"`
	Grants []GrantDoc `yaml:"grants" validate:"dive"`
	Guards []GuardDoc `yaml:"guards" validate:"dive"`
}

type FieldDoc struct {
	Name           string `yaml:"name" validate:"required"`
	Classification string `yaml:"classification"`
}

type GrantDoc struct {
	Role       string         `yaml:"role" validate:"required"`
	Operations []string       `yaml:"operations" validate:"required,min=1,dive,required"`
	Predicate  string         `yaml:"predicate"`
	Args       map[string]any `yaml:"args"`
}

type GuardDoc struct {
	Operation    string         `yaml:"operation" validate:"required"`
	Condition    string         `yaml:"condition" validate:"required"`
	Args         map[string]any `yaml:"args"`
	RequiredRole string         `yaml:"requiredRole" validate:"required"`
	Message      string         `yaml:"message" validate:"required"`
}
