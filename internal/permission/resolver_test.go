package permission

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/essence/internal/model"
	"github.com/sakif/essence/internal/snowflake"
)

const (
	testUser  snowflake.ID = 1001
	roleEvery snowflake.ID = 2000
	roleMod   snowflake.ID = 2001
	roleAdmin snowflake.ID = 2002
)

func role(id snowflake.ID, pos uint16, allow, deny model.Permissions) model.Role {
	return model.Role{
		ID:          id,
		Position:    pos,
		Permissions: model.PermissionPair{Allow: allow, Deny: deny},
	}
}

func overwrite(id snowflake.ID, allow, deny model.Permissions) model.PermissionOverwrite {
	return model.PermissionOverwrite{ID: id, PermissionPair: model.PermissionPair{Allow: allow, Deny: deny}}
}

func TestCalculate_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		roles      []model.Role
		overwrites []model.PermissionOverwrite
		want       model.Permissions
	}{
		{
			name: "higher role denial beats lower allow",
			roles: []model.Role{
				role(roleEvery, 0, model.PermViewChannel, 0),
				role(roleMod, 1, model.PermSendMessages, model.PermViewChannel),
			},
			want: model.PermSendMessages,
		},
		{
			name:       "administrator short-circuits overwrites",
			roles:      []model.Role{role(roleAdmin, 0, model.PermAdministrator, 0)},
			overwrites: []model.PermissionOverwrite{overwrite(testUser, 0, model.PermViewChannel)},
			want:       model.All(),
		},
		{
			name:  "member overwrite applies last",
			roles: []model.Role{role(roleEvery, 0, model.PermViewChannel, 0)},
			overwrites: []model.PermissionOverwrite{
				overwrite(roleEvery, 0, model.PermViewChannel),
				overwrite(testUser, model.PermViewChannel, 0),
			},
			want: model.PermViewChannel,
		},
		{
			name: "lower role deny also beats higher allow",
			roles: []model.Role{
				role(roleEvery, 0, 0, model.PermSendMessages),
				role(roleMod, 5, model.PermSendMessages, 0),
			},
			want: 0,
		},
		{
			name: "denied administrator is not admin",
			roles: []model.Role{
				role(roleEvery, 0, model.PermViewChannel, 0),
				role(roleAdmin, 1, model.PermAdministrator, 0),
				role(roleMod, 2, 0, model.PermAdministrator),
			},
			overwrites: []model.PermissionOverwrite{overwrite(testUser, 0, model.PermViewChannel)},
			want:       0,
		},
		{
			name:  "no overwrites means guild-wide mask",
			roles: []model.Role{role(roleEvery, 0, model.DefaultPermissions, 0)},
			want:  model.DefaultPermissions,
		},
		{
			name:  "overwrites for roles the member lacks are ignored",
			roles: []model.Role{role(roleEvery, 0, model.PermViewChannel, 0)},
			overwrites: []model.PermissionOverwrite{
				overwrite(roleMod, 0, model.PermViewChannel),
			},
			want: model.PermViewChannel,
		},
		{
			name: "higher role overwrite regrants lower denial",
			roles: []model.Role{
				role(roleEvery, 0, model.PermViewChannel|model.PermSendMessages, 0),
				role(roleMod, 1, 0, 0),
			},
			overwrites: []model.PermissionOverwrite{
				overwrite(roleMod, model.PermSendMessages, 0),
				overwrite(roleEvery, 0, model.PermSendMessages),
			},
			want: model.PermViewChannel | model.PermSendMessages,
		},
		{
			name: "member overwrite denies what roles regranted",
			roles: []model.Role{
				role(roleEvery, 0, model.PermViewChannel, 0),
				role(roleMod, 1, 0, 0),
			},
			overwrites: []model.PermissionOverwrite{
				overwrite(testUser, 0, model.PermAttachFiles),
				overwrite(roleMod, model.PermAttachFiles, 0),
			},
			want: model.PermViewChannel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(testUser, tt.roles, tt.overwrites)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculate_DenyWinsWithinPair(t *testing.T) {
	a := model.PermViewChannel | model.PermSendMessages | model.PermAddReactions
	d := model.PermSendMessages | model.PermKickMembers
	got := Calculate(testUser, []model.Role{role(roleEvery, 0, a, d)}, nil)
	assert.Equal(t, a&^d, got)
}

func TestCalculate_PermutationInvariant(t *testing.T) {
	base := []model.Role{
		role(roleEvery, 0, model.PermViewChannel|model.PermSendMessages, 0),
		role(roleMod, 3, model.PermManageMessages, model.PermSendMessages),
		role(roleAdmin, 7, model.PermAttachFiles, 0),
	}
	overwrites := []model.PermissionOverwrite{
		overwrite(roleAdmin, model.PermSendMessages, 0),
		overwrite(roleEvery, 0, model.PermAttachFiles),
		overwrite(testUser, 0, model.PermManageMessages),
	}

	want := Calculate(testUser, append([]model.Role(nil), base...), overwrites)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Role(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, Calculate(testUser, shuffled, overwrites))
		// and it is a pure function of its inputs
		assert.Equal(t, want, Calculate(testUser, shuffled, overwrites))
	}
}

func TestCalculate_SortsInPlace(t *testing.T) {
	roles := []model.Role{
		role(roleAdmin, 2, 0, 0),
		role(roleMod, 1, 0, 0),
		role(roleEvery, 1, 0, 0),
		role(roleEvery+10, 0, 0, 0),
	}
	Calculate(testUser, roles, nil)

	ids := make([]snowflake.ID, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	// position ties fall back to ID order
	assert.Equal(t, []snowflake.ID{roleEvery + 10, roleEvery, roleMod, roleAdmin}, ids)
}

func TestCalculateSorted_OrdersOverwritesByPosition(t *testing.T) {
	// Reversed on purpose. The overwrite stack must still put the mod
	// overwrite above the default role's.
	roles := []model.Role{
		role(roleMod, 1, model.PermViewChannel, 0),
		role(roleEvery, 0, 0, 0),
	}
	overwrites := []model.PermissionOverwrite{
		overwrite(roleMod, 0, model.PermSendMessages),
		overwrite(roleEvery, model.PermSendMessages, 0),
	}

	assert.Equal(t, model.PermViewChannel, CalculateSorted(testUser, roles, overwrites))
	assert.Equal(t, roleMod, roles[0].ID, "CalculateSorted does not reorder its input")
	assert.Equal(t, model.PermViewChannel, Calculate(testUser, roles, overwrites))
}

func TestCalculateSorted_AppliesDuplicateOverwrites(t *testing.T) {
	roles := []model.Role{role(roleEvery, 0, model.PermViewChannel, 0)}
	overwrites := []model.PermissionOverwrite{
		overwrite(testUser, model.PermSendMessages, 0),
		overwrite(roleEvery, model.PermAddReactions, 0),
		overwrite(roleEvery, 0, model.PermViewChannel),
		overwrite(testUser, 0, model.PermSendMessages),
	}

	// Both default-role layers apply in input order, then both member ones.
	assert.Equal(t, model.PermAddReactions, CalculateSorted(testUser, roles, overwrites))
}
