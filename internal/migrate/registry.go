package migrate

import "fmt"

// Registry — реестр data-миграций по логическому имени.
//
// Приложение, встраивающее движок, регистрирует свои миграции при
// старте; Runner находит Definition по Migration.Name.
type Registry struct {
	definitions map[string]Definition
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

// Register добавляет миграцию под именем name.
func (r *Registry) Register(name string, def Definition) {
	r.definitions[name] = def
}

// Get возвращает миграцию по имени.
func (r *Registry) Get(name string) (Definition, error) {
	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, name)
	}
	return def, nil
}

// Names возвращает зарегистрированные имена.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	return names
}
