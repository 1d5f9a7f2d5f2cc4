package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Physical workflow endpoints.
const (
	EndpointAnimalManagement = "animal-management"
	EndpointAdoption         = "adoption"
	EndpointTasks            = "tasks"
	EndpointGeneral          = "general"
)

// Routes maps logical workflows and entity types to endpoint paths.
type Routes struct {
	Workflows map[string]string `yaml:"workflows"`
	Entities  map[string]string `yaml:"entities"`
	Default   string            `yaml:"default"`
}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() Routes {
	return Routes{
		Workflows: map[string]string{
			"animal_registration":  EndpointAnimalManagement,
			"animal_update":        EndpointAnimalManagement,
			"animal_search":        EndpointAnimalManagement,
			"medical_record":       EndpointAnimalManagement,
			"adoption_application": EndpointAdoption,
			"adoption_followup":    EndpointAdoption,
			"adopter_registration": EndpointAdoption,
			"task_management":      EndpointTasks,
			"report_generation":    EndpointTasks,
			"general_query":        EndpointGeneral,
		},
		Entities: map[string]string{
			"animal":   EndpointAnimalManagement,
			"adopter":  EndpointAdoption,
			"adoption": EndpointAdoption,
			"task":     EndpointTasks,
		},
		Default: EndpointGeneral,
	}
}

// LoadRoutes reads a YAML route table and layers it over DefaultRoutes.
// An empty path returns the defaults.
func LoadRoutes(path string) (Routes, error) {
	routes := DefaultRoutes()
	if strings.TrimSpace(path) == "" {
		return routes, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Routes{}, fmt.Errorf("read routes file: %w", err)
	}
	var override Routes
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Routes{}, fmt.Errorf("parse routes file %s: %w", path, err)
	}

	for k, v := range override.Workflows {
		routes.Workflows[k] = strings.Trim(v, "/ ")
	}
	for k, v := range override.Entities {
		routes.Entities[strings.ToLower(k)] = strings.Trim(v, "/ ")
	}
	if d := strings.Trim(override.Default, "/ "); d != "" {
		routes.Default = d
	}
	return routes, nil
}

// Endpoint resolves a logical workflow. Unknown names go to Default.
func (r Routes) Endpoint(workflow string) string {
	if ep, ok := r.Workflows[workflow]; ok && ep != "" {
		return ep
	}
	if r.Default != "" {
		return r.Default
	}
	return EndpointGeneral
}

// EntityEndpoint resolves the endpoint owning an entity type.
func (r Routes) EntityEndpoint(entity string) (string, bool) {
	ep, ok := r.Entities[strings.ToLower(strings.TrimSpace(entity))]
	return ep, ok && ep != ""
}
