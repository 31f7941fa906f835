package models

// TeamMember is shown on the public about page. Members without an order are
// listed after the ordered ones.
type TeamMember struct {
	ID       int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string  `gorm:"type:varchar(255);not null" json:"name"`
	Position *string `gorm:"type:varchar(255)" json:"position"`
	ImageURL *string `gorm:"type:varchar(1024)" json:"image_url"`
	Order    *int    `gorm:"column:sort_order" json:"order"`
}

func (TeamMember) TableName() string {
	return "team_members"
}
