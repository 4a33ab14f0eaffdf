// Package domain contains core concepts of the trade chat.
// This file defines parties, their declared types and conversation roles.
// No runtime, network, or UI logic should be added here.
package domain

// UserType is the type a user declares in the identity directory.
type UserType string

const (
	UserTypeBuyer    UserType = "BUYER"
	UserTypeSupplier UserType = "SUPPLIER"
)

// Role is the side a user holds inside one conversation.
type Role string

const (
	RoleBuyer    Role = "BUYER"
	RoleSupplier Role = "SUPPLIER"
)

const UnknownName = "Unknown"

// Identity is what the directory knows about a user.
type Identity struct {
	UserID      string   `json:"userId" yaml:"userId"`
	UserType    UserType `json:"userType" yaml:"userType"`
	DisplayName string   `json:"displayName" yaml:"displayName"`
	CompanyName string   `json:"companyName,omitempty" yaml:"companyName,omitempty"`
}

// Name prefers the company name over the personal one.
func (i Identity) Name() string {
	switch {
	case i.CompanyName != "":
		return i.CompanyName
	case i.DisplayName != "":
		return i.DisplayName
	default:
		return UnknownName
	}
}
