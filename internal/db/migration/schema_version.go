package migration

// Rows written before the schema_version column existed carry 0. Their JSON
// documents are version 1 by definition, so the column is brought in line.
func backfillSchemaVersion(m *Migration) error {
	res := m.DB.Exec(`UPDATE kv_records SET schema_version = 1 WHERE schema_version = 0 AND value_json <> ''`)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.Log("backfilled schema_version rows=", res.RowsAffected)
	}
	return nil
}
