package repository

import "gorm.io/gorm"

// Entities lists every table owned by this package, in dependency order.
func Entities() []any {
	return []any{
		&ThreadEntity{},
		&MessageEntity{},
		&MessageMediaEntity{},
		&DeadLetterEntity{},
		&PipelineHistoryEntity{},
		&RawPayloadEntity{},
		&WebhookControlEntity{},
	}
}

// AutoMigrate creates the schema from the entities. It backs the sqlite mode;
// postgres deployments run the SQL migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Entities()...)
}
