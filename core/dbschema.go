package core

import (
	"time"
)

// User is an account of this service
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;type:char(20)"`
	Email        string     `json:"email" gorm:"type:text;uniqueIndex"`
	PasswordHash string     `json:"-" gorm:"type:text"`
	FirstName    string     `json:"first_name" gorm:"type:text"`
	LastName     string     `json:"last_name" gorm:"type:text"`
	IsActive     bool       `json:"is_active" gorm:"default:true"`
	LastLogin    *time.Time `json:"last_login,omitempty" gorm:"type:timestamp with time zone"`
	CDate        time.Time  `json:"cdate" gorm:"->;<-:create;autoCreateTime"`
	MDate        time.Time  `json:"mdate" gorm:"autoUpdateTime"`
}

// Message is a mail sent from one user to another
// sender and recipient delete independently
type Message struct {
	ID               string       `json:"id" gorm:"primaryKey;type:char(20)"`
	SenderID         string       `json:"sender_id" gorm:"type:char(20);index"`
	SenderEmail      string       `json:"sender_email" gorm:"type:text"`
	RecipientID      string       `json:"recipient_id" gorm:"type:char(20);index"`
	RecipientEmail   string       `json:"recipient_email" gorm:"type:text"`
	Subject          string       `json:"subject" gorm:"type:varchar(200)"`
	Body             string       `json:"body" gorm:"type:text"`
	HTMLBody         string       `json:"html_body,omitempty" gorm:"type:text"`
	IsRead           bool         `json:"is_read" gorm:"default:false"`
	ReadAt           *time.Time   `json:"read_at,omitempty" gorm:"type:timestamp with time zone"`
	SenderDeleted    bool         `json:"-" gorm:"default:false"`
	RecipientDeleted bool         `json:"-" gorm:"default:false"`
	Attachments      []Attachment `json:"attachments" gorm:"foreignKey:MessageID"`
	CDate            time.Time    `json:"cdate" gorm:"->;<-:create;autoCreateTime"`
}

// Attachment is a file attached to a message
// the content lives in the blob store under StorageKey
type Attachment struct {
	ID            string    `json:"id" gorm:"primaryKey;type:char(20)"`
	MessageID     string    `json:"message_id" gorm:"type:char(20);index"`
	Filename      string    `json:"filename" gorm:"type:text"`
	ContentType   string    `json:"content_type" gorm:"type:text"`
	Size          int64     `json:"size"`
	StorageKey    string    `json:"-" gorm:"type:text"`
	DownloadCount int64     `json:"download_count" gorm:"default:0"`
	CDate         time.Time `json:"cdate" gorm:"->;<-:create;autoCreateTime"`
}
