package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"chmsapp/models"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Bootstrap CLI: creates a contact and its user account directly against the
// database, since the API's user CRUD requires an existing session.
func main() {
	email := flag.String("email", "", "contact email, becomes the username")
	password := flag.String("password", "", "plaintext password (min 6 chars)")
	first := flag.String("first", "", "contact first name")
	last := flag.String("last", "", "contact last name")
	roles := flag.String("roles", "member", "comma-separated role list")
	flag.Parse()
	if *email == "" || *password == "" {
		fmt.Println("usage: create_user --email <email> --password <password> [--first --last --roles]")
		os.Exit(2)
	}
	if len(*password) < 6 {
		log.Fatal("password too short (min 6)")
	}

	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	// check existing
	var existing models.User
	if err := db.Where("username = ?", *email).First(&existing).Error; err == nil {
		fmt.Printf("user %s already exists (id=%d)\n", *email, existing.ID)
		os.Exit(0)
	}

	name := *first
	if name == "" {
		name = *email
	}
	contact := models.Contact{FirstName: name, LastName: *last, Email: *email}
	if err := db.Create(&contact).Error; err != nil {
		log.Fatalf("failed to create contact: %v", err)
	}

	hpw, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	roleList := pq.StringArray{}
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}
	user := models.User{
		Username:     *email,
		PasswordHash: hpw,
		Roles:        roleList,
		ContactID:    contact.ID,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created user %s id=%d contact=%d\n", *email, user.ID, contact.ID)
}
