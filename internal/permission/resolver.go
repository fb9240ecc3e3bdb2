// Package permission folds a member's roles and a channel's overwrites into
// one effective permission mask.
//
// THE TWO FOLDS:
//
//  1. Roles are a flat set. Every allow from every role is unioned, then every
//     deny from every role is removed. Any deny beats any allow, whatever the
//     positions.
//  2. Channel overwrites are an ordered stack. Each layer applies its allow
//     and then its deny on top of what is below it, so a higher layer can
//     re-grant something a lower one denied. Role overwrites go first in
//     ascending role position; the member's own overwrite is the top layer.
//
// ADMINISTRATOR is checked between the two folds. If it survives the role
// fold the result is All() and overwrites are not consulted. A role that
// denies ADMINISTRATOR therefore strips it.
//
// Guild owners are not special here. Callers substitute All() for owners.
package permission

import (
	"sort"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

// Calculate sorts roles in place by position (then ID) and resolves the mask.
// Pass a copy if the caller's order matters, or use CalculateSorted.
//
// overwrites may be nil for guild-wide permissions.
func Calculate(userID snowflake.ID, roles []model.Role, overwrites []model.PermissionOverwrite) model.Permissions {
	SortRoles(roles)
	return CalculateSorted(userID, roles, overwrites)
}

// SortRoles orders roles bottom-up: ascending position, ties by ID.
func SortRoles(roles []model.Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Position != roles[j].Position {
			return roles[i].Position < roles[j].Position
		}
		return roles[i].ID < roles[j].ID
	})
}

// CalculateSorted is Calculate for roles already in SortRoles order. The
// role fold is order-free, and the overwrite stack is ordered by role
// position here, so a mis-sorted slice still resolves the same mask.
func CalculateSorted(userID snowflake.ID, roles []model.Role, overwrites []model.PermissionOverwrite) model.Permissions {
	var allow, deny model.Permissions
	for _, role := range roles {
		allow |= role.Permissions.Allow
		deny |= role.Permissions.Deny
	}
	perms := allow &^ deny

	if perms.Contains(model.PermAdministrator) {
		return model.All()
	}

	if overwrites == nil {
		return perms
	}

	position := make(map[snowflake.ID]uint16, len(roles))
	for _, role := range roles {
		position[role.ID] = role.Position
	}

	var (
		layers []model.PermissionOverwrite
		member []model.PermissionOverwrite
	)
	for _, o := range overwrites {
		if _, ok := position[o.ID]; ok {
			layers = append(layers, o)
		} else if o.ID == userID {
			member = append(member, o)
		}
	}

	// Duplicates for one role keep their input order.
	sort.SliceStable(layers, func(i, j int) bool {
		pi, pj := position[layers[i].ID], position[layers[j].ID]
		if pi != pj {
			return pi < pj
		}
		return layers[i].ID < layers[j].ID
	})

	for _, o := range layers {
		perms = o.PermissionPair.Apply(perms)
	}
	for _, o := range member {
		perms = o.PermissionPair.Apply(perms)
	}

	return perms
}
