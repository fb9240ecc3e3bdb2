package model

import "github.com/sakif/essence/internal/snowflake"

// ClientFlags are per-account client toggles synced across devices.
type ClientFlags int32

const (
	ClientPushNotifications ClientFlags = 1 << iota
	ClientAlwaysShowGuildsInSidebar
)

const allClientFlags = ClientAlwaysShowGuildsInSidebar<<1 - 1

func (f *ClientFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allClientFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UserOnboardingFlags record which onboarding steps a user has completed.
type UserOnboardingFlags int64

const (
	OnboardingCustomizeYourProfile UserOnboardingFlags = 1 << iota
	OnboardingConnectWithFriends
	OnboardingDiscoverCommunities
)

const allOnboardingFlags = OnboardingDiscoverCommunities<<1 - 1

func (f *UserOnboardingFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allOnboardingFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// NotificationFlags control notifications for one guild or channel.
type NotificationFlags int16

const (
	NotifyAllMessages NotificationFlags = 1 << iota
	NotifyMentions
	NotifySuppressEveryone
	NotifySuppressRoles
	NotifyMuted
)

const allNotificationFlags = NotifyMuted<<1 - 1

func (f *NotificationFlags) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allNotificationFlags)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Settings are account-level display preferences.
type Settings int32

const (
	SettingRenderEmbeds Settings = 1 << iota
	SettingRenderReactions
	SettingShowSpoilers
	SettingCompactMode
)

const allSettings = SettingCompactMode<<1 - 1

// DefaultSettings is what a new account starts with.
const DefaultSettings = SettingRenderEmbeds | SettingRenderReactions

func (s *Settings) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allSettings)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ClientSettings is the synced settings blob for a user.
type ClientSettings struct {
	Flags           ClientFlags         `json:"flags"`
	OnboardingFlags UserOnboardingFlags `json:"onboarding_flags"`
	Settings        Settings            `json:"settings"`
	Locale          string              `json:"locale"`
	DMChannelOrder  []snowflake.ID      `json:"dm_channel_order"`
}
