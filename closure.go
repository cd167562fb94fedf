package hooks

import "sort"

// BuildRelationClosure validates a relation inheritance graph and returns
// its transitive closure: for each relation, the full set of relations that
// satisfy it (itself plus everything that transitively implies it). The
// input maps a relation to the relations that directly imply it.
//
// Validation rejects references to undefined relations and any relation that
// transitively inherits from itself. This runs at model write time only;
// permission checks read the precomputed closure.
func BuildRelationClosure(relations map[string][]string) (map[string][]string, error) {
	for relation, impliers := range relations {
		for _, implier := range impliers {
			if _, ok := relations[implier]; !ok {
				return nil, ErrUnknownRelation.WithMetadata(map[string]any{
					"relation": relation,
					"implier":  implier,
				})
			}
		}
	}

	if cycle := findCycle(relations); cycle != "" {
		return nil, ErrModelCycle.WithMetadata(map[string]any{
			"relation": cycle,
		})
	}

	closure := make(map[string][]string, len(relations))
	for relation := range relations {
		seen := map[string]struct{}{relation: {}}
		stack := []string{relation}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, implier := range relations[current] {
				if _, ok := seen[implier]; ok {
					continue
				}
				seen[implier] = struct{}{}
				stack = append(stack, implier)
			}
		}

		members := make([]string, 0, len(seen))
		for member := range seen {
			members = append(members, member)
		}
		sort.Strings(members)
		closure[relation] = members
	}

	return closure, nil
}

// findCycle returns a relation participating in an inheritance cycle, or ""
// when the graph is acyclic.
func findCycle(relations map[string][]string) string {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(relations))

	var visit func(relation string) bool
	visit = func(relation string) bool {
		switch state[relation] {
		case visiting:
			return true
		case done:
			return false
		}

		state[relation] = visiting
		for _, implier := range relations[relation] {
			if visit(implier) {
				return true
			}
		}
		state[relation] = done
		return false
	}

	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visit(name) {
			return name
		}
	}
	return ""
}

// ValidateModel checks a model's relation graph and permission mapping, and
// recomputes the stored closure. Called on every model write.
func ValidateModel(m *AuthorizationModel) error {
	closure, err := BuildRelationClosure(m.Relations)
	if err != nil {
		return err
	}

	for permission, spec := range m.Permissions {
		if _, ok := m.Relations[spec.Relation]; !ok {
			return ErrUnknownRelation.WithMetadata(map[string]any{
				"permission": permission,
				"relation":   spec.Relation,
			})
		}
	}

	m.Closure = closure
	return nil
}
