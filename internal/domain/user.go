// Package domain 定义了同步器使用的核心数据结构。
package domain

import "time"

// User 表示一个注册用户 (外部身份的最小本地投影)。
type User struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Username    string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null"`
	DisplayName string    `gorm:"type:varchar(191)"`
	Password    string    `gorm:"type:text;not null"` // bcrypt 哈希
	Email       string    `gorm:"type:varchar(191);index:idx_email"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Name returns the name shown to other group members.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
