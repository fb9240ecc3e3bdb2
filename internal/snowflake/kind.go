package snowflake

import "encoding/json"

// ModelKind tags which table an ID belongs to. The numeric codes are part of
// the ID wire format and must never be reassigned.
type ModelKind uint8

const (
	KindGuild      ModelKind = 0
	KindUser       ModelKind = 1
	KindChannel    ModelKind = 2
	KindMessage    ModelKind = 3
	KindAttachment ModelKind = 4
	KindRole       ModelKind = 5
	KindInternal   ModelKind = 6
	KindUnknown    ModelKind = 31
)

var kindNames = map[ModelKind]string{
	KindGuild:      "guild",
	KindUser:       "user",
	KindChannel:    "channel",
	KindMessage:    "message",
	KindAttachment: "attachment",
	KindRole:       "role",
	KindInternal:   "internal",
	KindUnknown:    "unknown",
}

// kindFromBits maps any 5-bit value outside the known set to KindUnknown.
func kindFromBits(b uint8) ModelKind {
	k := ModelKind(b)
	if _, ok := kindNames[k]; ok {
		return k
	}
	return KindUnknown
}

func (k ModelKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

func (k ModelKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}
