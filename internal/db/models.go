package db

// KVRecord is one persisted value of the key-value store. Values are opaque
// JSON documents; SchemaVersion mirrors the version embedded in the document so
// that data migrations can find outdated rows without decoding them.
type KVRecord struct {
	Namespace     string `gorm:"column:namespace;primaryKey"`
	Key           string `gorm:"column:key;primaryKey"`
	ValueJSON     string `gorm:"column:value_json;not null;default:''"`
	SchemaVersion int    `gorm:"column:schema_version;not null;default:0"`
	UpdatedAt     int64  `gorm:"column:updated_at;not null;default:0"`
}

func (KVRecord) TableName() string { return "kv_records" }
