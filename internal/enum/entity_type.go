package enum

type EntityType string

const (
	DRAFT            EntityType = "DRAFT"
	DRAFT_ATTACHMENT EntityType = "DRAFT_ATTACHMENT"
)

func (entityType EntityType) String() string {
	return string(entityType)
}

func GetEntityType(s string) EntityType {
	return EntityType(s)
}
