package regulatory

import "strings"

// Role identifies the banking professional profile an answer is
// tailored for. Unknown values degrade to RoleGeneral.
type Role string

// Supported roles.
const (
	RoleAnalyst          Role = "analyst"
	RoleDataEngineer     Role = "data_engineer"
	RoleProgrammeManager Role = "programme_manager"
	RoleGeneral          Role = "general"
)

// roleNames maps each role to its display name.
var roleNames = map[Role]string{
	RoleAnalyst:          "Regulatory Analyst",
	RoleDataEngineer:     "Data Engineer",
	RoleProgrammeManager: "Programme Manager",
	RoleGeneral:          "General User",
}

// frameworks maps framework identifiers to display names for the info
// surface.
var frameworks = map[string]string{
	"basel_iii": "Basel III Capital Requirements",
	"corep":     "Common Reporting (COREP)",
	"finrep":    "Financial Reporting (FINREP)",
	"ifrs":      "International Financial Reporting Standards",
	"crd_iv":    "Capital Requirements Directive IV",
	"crr":       "Capital Requirements Regulation",
}

// NormalizeRole maps a request-supplied role string onto a supported
// Role, defaulting to RoleGeneral.
func NormalizeRole(s string) Role {
	role := Role(strings.TrimSpace(s))
	if _, ok := roleNames[role]; ok {
		return role
	}
	return RoleGeneral
}

// SupportedRoles lists the role identifiers the enhancer understands.
func SupportedRoles() []Role {
	return []Role{RoleAnalyst, RoleDataEngineer, RoleProgrammeManager, RoleGeneral}
}

// RoleName returns the display name for a role.
func RoleName(role Role) string {
	if name, ok := roleNames[role]; ok {
		return name
	}
	return roleNames[RoleGeneral]
}

// Frameworks returns the supported regulatory frameworks keyed by
// identifier.
func Frameworks() map[string]string {
	out := make(map[string]string, len(frameworks))
	for k, v := range frameworks {
		out[k] = v
	}
	return out
}

// regulatoryKeywords boost chunks and queries during re-ranking.
var regulatoryKeywords = []string{
	"basel", "corep", "finrep", "capital", "liquidity", "lcr", "nsfr",
	"cet1", "tier 1", "total capital", "risk weight", "exposure",
	"regulatory", "compliance", "reporting", "calculation", "template",
}

// regulatoryIndicators flag a query as regulatory-focused.
var regulatoryIndicators = []string{
	"basel", "corep", "finrep", "capital", "liquidity", "regulatory",
	"compliance", "reporting", "template", "calculation", "requirement",
	"framework", "guidance", "directive", "regulation", "eba", "crd", "crr",
}

// IsRegulatoryQuery reports whether a query mentions any regulatory
// indicator term.
func IsRegulatoryQuery(query string) bool {
	q := strings.ToLower(query)
	for _, indicator := range regulatoryIndicators {
		if strings.Contains(q, indicator) {
			return true
		}
	}
	return false
}
