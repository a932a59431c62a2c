package rbac

const (
	RoleLearner  = "learner"
	RoleMentor   = "mentor"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Default policy. The *-all permissions let staff act on sessions they do
// not own.
var RolePermissions = map[string][]string{
	RoleLearner: {
		"session:start",
		"session:run",
		"session:view-own",
		"sync:enqueue",
		"sync:view-own",
	},
	RoleMentor: {
		"session:view-all",
		"session:review",
		"sync:view-all",
		"conflict:view",
	},
	RoleOperator: {
		"session:view-all",
		"session:abandon-any",
		"sync:*",
		"conflict:*",
		"outbox:read",
	},
	RoleAdmin: {
		"*",
	},
}
