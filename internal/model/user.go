package model

// Roles carried in the access token's "role" claim.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// UserProfile is the part of a user record the pre-order flow reads.
//
// Fields:
//  ID                – users.id
//  Email             – users.email, shown to admins and used for notifications.
//  Role              – USER or ADMIN.
//  IsMember          – paid membership flag; only members may pre-order.
//  GatewayCustomerID – customer reference at the payment gateway (nullable).
type UserProfile struct {
	ID                uint64
	Email             string
	Role              string
	IsMember          bool
	GatewayCustomerID *string
}
