package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"classvault/internal/auth"
	"classvault/internal/config"
	"classvault/internal/database"
)

func main() {
	var (
		username = flag.String("username", "", "初始管理员用户名（必填）")
		email    = flag.String("email", "", "管理员邮箱（必填）")
		dbHost   = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort   = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName   = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser   = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass   = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode  = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()

	u := strings.TrimSpace(*username)
	if u == "" {
		log.Fatal("missing required flag: --username")
	}
	mail := strings.TrimSpace(*email)
	if mail == "" {
		log.Fatal("missing required flag: --email")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if err := db.AutoMigrate(&database.User{}, &database.TemplateDocument{}); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	var existing database.User
	switch err := db.Where("username = ?", u).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user %q already exists", u)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Username:     u,
		Email:        mail,
		PasswordHash: hashed,
		Role:         database.RolePlatformAdmin,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	if err := seedDefaultTemplates(db); err != nil {
		log.Fatalf("seed default templates: %v", err)
	}

	fmt.Printf("已创建初始平台管理员账号：\n")
	fmt.Printf("用户名: %s\n", u)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
}

// seedDefaultTemplates 为每个目标格式落一套默认水印/品牌模板。
// 已有默认的组保持不动，重复执行安全。
func seedDefaultTemplates(db *gorm.DB) error {
	watermarkData := datatypes.JSON(`{
  "elements": {
    "watermark-text": [
      {
        "id": "default-watermark-text",
        "type": "watermark-text",
        "position": {"x": 50, "y": 50},
        "style": {"opacity": 25, "rotation": -30, "fontSize": 28},
        "content": "{{user}} · {{date}}",
        "pattern": "grid"
      }
    ]
  }
}`)
	brandingData := datatypes.JSON(`{
  "elements": {
    "copyright-text": [
      {
        "id": "default-copyright",
        "type": "copyright-text",
        "position": {"x": 50, "y": 96},
        "style": {"opacity": 70, "fontSize": 10},
        "content": "{{FRONTEND_URL}}"
      }
    ]
  }
}`)

	formats := []string{
		database.TargetFormatPDFPortrait,
		database.TargetFormatPDFLandscape,
		database.TargetFormatSVGLessonPlan,
	}
	kinds := []struct {
		templateType string
		name         string
		data         datatypes.JSON
	}{
		{database.TemplateTypeWatermark, "Default watermark", watermarkData},
		{database.TemplateTypeBranding, "Default branding", brandingData},
	}

	for _, kind := range kinds {
		for _, format := range formats {
			var count int64
			if err := db.Model(&database.TemplateDocument{}).
				Where("template_type = ? AND target_format = ? AND is_default = ?", kind.templateType, format, true).
				Count(&count).Error; err != nil {
				return fmt.Errorf("count defaults for %s/%s: %w", kind.templateType, format, err)
			}
			if count > 0 {
				continue
			}

			tmpl := database.TemplateDocument{
				Name:         fmt.Sprintf("%s (%s)", kind.name, format),
				TemplateType: kind.templateType,
				TargetFormat: format,
				IsDefault:    true,
				TemplateData: kind.data,
			}
			if err := db.Create(&tmpl).Error; err != nil {
				return fmt.Errorf("create default %s/%s: %w", kind.templateType, format, err)
			}
			log.Printf("seeded default %s template for %s", kind.templateType, format)
		}
	}
	return nil
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("DB_NAME")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("DB_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("DB_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
