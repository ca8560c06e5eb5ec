package domain

import (
	"encoding/json"

	"gorm.io/datatypes"
)

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeInt64s(raw datatypes.JSON) []int64 {
	if len(raw) == 0 {
		return nil
	}
	var out []int64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func EncodeStrings(in []string) datatypes.JSON {
	if in == nil {
		return nil
	}
	b, _ := json.Marshal(in)
	return datatypes.JSON(b)
}

func EncodeInt64s(in []int64) datatypes.JSON {
	if in == nil {
		return nil
	}
	b, _ := json.Marshal(in)
	return datatypes.JSON(b)
}
