// Package config loads the declarative policy document into a models.Model.
//
// Everything that could make a request-time decision ambiguous is rejected
// here: unknown operations, predicates and conditions, malformed arguments,
// guards outside update/delete, and guards that contradict each other.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"keeper/internal/classification"
	"keeper/internal/policy/models"
	"keeper/internal/policy/predicates"
	"keeper/pkg/domain"
)

var validate = validator.New()

// Load reads and compiles the policy file at path.
func Load(path string) (*models.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Source: path, Problems: []string{err.Error()}}
	}
	return Parse(data, path)
}

// Parse compiles a policy document. source only labels errors.
func Parse(data []byte, source string) (*models.Model, error) {
	cfgErr := &ConfigurationError{Source: source}

	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			cfgErr.add("document is empty")
		} else {
			cfgErr.add("yaml: %v", err)
		}
		return nil, cfgErr
	}

	if err := validate.Struct(file); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			cfgErr.add("%v", err)
			return nil, cfgErr
		}
		for _, fe := range verrs {
			cfgErr.add("%s failed %q", fe.Namespace(), fe.Tag())
		}
		return nil, cfgErr
	}

	types := make([]models.EntityType, 0, len(file.EntityTypes))
	seen := make(map[string]struct{}, len(file.EntityTypes))
	for _, doc := range file.EntityTypes {
		if _, dup := seen[doc.Name]; dup {
			cfgErr.add("entity type %s declared twice", doc.Name)
			continue
		}
		seen[doc.Name] = struct{}{}
		types = append(types, compileEntityType(doc, cfgErr))
	}

	if !cfgErr.empty() {
		return nil, cfgErr
	}
	return models.NewModel(types), nil
}

func compileEntityType(doc EntityTypeDoc, cfgErr *ConfigurationError) models.EntityType {
	et := models.EntityType{Name: doc.Name}

	fieldSeen := make(map[string]struct{}, len(doc.Fields))
	for _, f := range doc.Fields {
		if _, dup := fieldSeen[f.Name]; dup {
			cfgErr.add("%s: field %s declared twice", doc.Name, f.Name)
			continue
		}
		fieldSeen[f.Name] = struct{}{}
		c, err := classification.Parse(f.Classification)
		if err != nil {
			cfgErr.add("%s.%s: %v", doc.Name, f.Name, err)
			continue
		}
		et.Fields = append(et.Fields, models.FieldSpec{Name: f.Name, Classification: c})
	}

	for i, g := range doc.Grants {
		grant, err := compileGrant(doc.Name, g)
		if err != nil {
			cfgErr.add("%s: grant %d (%s): %v", doc.Name, i, g.Role, err)
			continue
		}
		et.Grants = append(et.Grants, grant)
	}

	for i, g := range doc.Guards {
		guard, err := compileGuard(doc.Name, g)
		if err != nil {
			cfgErr.add("%s: guard %d: %v", doc.Name, i, err)
			continue
		}
		et.Guards = append(et.Guards, guard)
	}

	checkGuards(et, cfgErr)
	return et
}

func compileGrant(entityType string, doc GrantDoc) (models.Grant, error) {
	ops := make(map[domain.Operation]struct{}, len(doc.Operations))
	for _, raw := range doc.Operations {
		op, err := domain.ParseOperation(raw)
		if err != nil {
			return models.Grant{}, fmt.Errorf("unknown operation %q", raw)
		}
		ops[op] = struct{}{}
	}
	grant := models.Grant{EntityType: entityType, Role: doc.Role, Operations: ops}
	if doc.Predicate == "" {
		if len(doc.Args) > 0 {
			return models.Grant{}, errors.New("args given without a predicate")
		}
		return grant, nil
	}
	p, err := predicates.NewPredicate(doc.Predicate, predicates.Args(doc.Args))
	if err != nil {
		return models.Grant{}, err
	}
	grant.Predicate = p
	return grant, nil
}

func compileGuard(entityType string, doc GuardDoc) (models.Guard, error) {
	op, err := domain.ParseOperation(doc.Operation)
	if err != nil {
		return models.Guard{}, fmt.Errorf("unknown operation %q", doc.Operation)
	}
	if op != domain.OperationUpdate && op != domain.OperationDelete {
		return models.Guard{}, fmt.Errorf("guards apply to update or delete, not %s", op)
	}
	c, err := predicates.NewCondition(doc.Condition, predicates.Args(doc.Args))
	if err != nil {
		return models.Guard{}, err
	}
	return models.Guard{
		EntityType:   entityType,
		Operation:    op,
		Condition:    c,
		RequiredRole: doc.RequiredRole,
		Message:      doc.Message,
	}, nil
}

// checkGuards rejects guards that can never be satisfied or that overlap.
// Two guards on the same operation and condition would fire together, so
// they must not exist at all: with equal roles one is redundant, with
// different roles they contradict.
func checkGuards(et models.EntityType, cfgErr *ConfigurationError) {
	type slot struct {
		op  domain.Operation
		key string
	}
	owners := make(map[slot]string, len(et.Guards))
	for _, g := range et.Guards {
		if !roleGranted(et, g.RequiredRole, g.Operation) {
			cfgErr.add("%s: guard on %s requires role %s, which has no %s grant", et.Name, g.Operation, g.RequiredRole, g.Operation)
		}
		s := slot{op: g.Operation, key: g.Condition.Key()}
		if prev, ok := owners[s]; ok {
			if prev == g.RequiredRole {
				cfgErr.add("%s: duplicate guard %s on %s", et.Name, s.key, s.op)
			} else {
				cfgErr.add("%s: conflicting guards %s on %s require both %s and %s", et.Name, s.key, s.op, prev, g.RequiredRole)
			}
			continue
		}
		owners[s] = g.RequiredRole
	}
}

func roleGranted(et models.EntityType, role string, op domain.Operation) bool {
	for _, g := range et.Grants {
		if g.Role == role && g.Allows(op) {
			return true
		}
	}
	return false
}
