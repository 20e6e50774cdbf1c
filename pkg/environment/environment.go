package environment

import "strings"

// Environment represents the application environment.
type Environment string

const (
	// Development for local development.
	Development Environment = "development"
	// Staging for the pre-production environment.
	Staging Environment = "staging"
	// Production for the production environment.
	Production Environment = "production"
)

// Parse normalizes an environment name, accepting the common short forms.
// Anything unrecognized is treated as development.
func Parse(s string) Environment {
	switch strings.ToLower(s) {
	case string(Production), "prod":
		return Production
	case string(Staging), "stage":
		return Staging
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
