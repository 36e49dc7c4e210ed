// Package seed populates the database with development fixtures.
package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/posts"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	_ = gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{db: db}
}

// SeedDev seeds the development database with realistic data
func (s *Seeder) SeedDev() error {
	log := func(msg string) {
		logger.Log.Info(msg)
	}

	log("Creating users...")
	users, err := s.seedUsers(50)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	log("Creating communities...")
	communities, err := s.seedCommunities(users, 8)
	if err != nil {
		return fmt.Errorf("failed to seed communities: %w", err)
	}

	log("Creating memberships...")
	if err := s.seedMemberships(users, communities); err != nil {
		return fmt.Errorf("failed to seed memberships: %w", err)
	}

	log("Creating posts...")
	postList, err := s.seedPosts(users, communities, 200)
	if err != nil {
		return fmt.Errorf("failed to seed posts: %w", err)
	}

	log("Creating votes...")
	if err := s.seedVotes(users, postList); err != nil {
		return fmt.Errorf("failed to seed votes: %w", err)
	}

	log("Creating comments...")
	if err := s.seedComments(users, postList, 500); err != nil {
		return fmt.Errorf("failed to seed comments: %w", err)
	}

	log("Creating chat messages...")
	if err := s.seedMessages(users, communities, 300); err != nil {
		return fmt.Errorf("failed to seed messages: %w", err)
	}

	log("Recomputing post scores...")
	if err := s.recomputeScores(postList); err != nil {
		return fmt.Errorf("failed to recompute scores: %w", err)
	}

	return nil
}

// SeedTest seeds a small fixed set of accounts for end-to-end tests.
// All test accounts use the password "password123".
func (s *Seeder) SeedTest() error {
	specs := []struct {
		username    string
		email       string
		displayName string
	}{
		{"alice", "alice@example.com", "Alice Smith"},
		{"bob", "bob@example.com", "Bob Johnson"},
		{"charlie", "charlie@example.com", "Charlie Brown"},
	}

	for _, spec := range specs {
		var user models.User
		err := s.db.Where("username = ? OR email = ?", spec.username, spec.email).First(&user).Error
		if err == nil {
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		hashStr := string(hash)

		user = models.User{
			Email:        spec.email,
			Username:     spec.username,
			DisplayName:  spec.displayName,
			PasswordHash: &hashStr,
			AvatarURL:    fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/png?seed=%s", spec.username),
		}
		if err := s.db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create test user %s: %w", spec.username, err)
		}
	}
	return nil
}

func (s *Seeder) seedUsers(count int) ([]models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	hashStr := string(hash)

	users := make([]models.User, 0, count)
	for i := 0; i < count; i++ {
		username := fmt.Sprintf("%s%d", strings.ToLower(gofakeit.Username()), i)
		user := models.User{
			Email:        fmt.Sprintf("%s@%s", username, gofakeit.DomainName()),
			Username:     username,
			DisplayName:  gofakeit.Name(),
			Bio:          gofakeit.Sentence(12),
			AvatarURL:    fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/png?seed=%s", username),
			PasswordHash: &hashStr,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Seeder) seedCommunities(users []models.User, count int) ([]models.Community, error) {
	topics := []string{
		"Gophers", "Synth Builders", "Urban Gardening", "Home Labs",
		"Film Photography", "Sourdough Bakers", "Trail Runners", "Board Games",
		"Mechanical Keyboards", "Astronomy",
	}

	communities := make([]models.Community, 0, count)
	for i := 0; i < count && i < len(topics); i++ {
		owner := users[rand.Intn(len(users))]
		name := topics[i]
		com := models.Community{
			Name:           name,
			Slug:           models.Slugify(name),
			Description:    gofakeit.Paragraph(1, 3, 10, " "),
			OwnerID:        owner.ID,
			Privacy:        models.PrivacyPublic,
			JoinMethod:     models.JoinOpen,
			PostPermission: models.PostAll,
			IsActive:       true,
			MemberCount:    1,
		}
		// A couple of approval-gated communities for variety.
		if i%4 == 3 {
			com.JoinMethod = models.JoinApproval
		}
		if err := s.db.Create(&com).Error; err != nil {
			return nil, err
		}
		member := models.CommunityMember{
			CommunityID: com.ID,
			UserID:      owner.ID,
			Role:        models.MemberOwner,
		}
		if err := s.db.Create(&member).Error; err != nil {
			return nil, err
		}
		communities = append(communities, com)
	}
	return communities, nil
}

func (s *Seeder) seedMemberships(users []models.User, communities []models.Community) error {
	for i := range users {
		// Each user joins 1 to 4 communities.
		joins := 1 + rand.Intn(4)
		for j := 0; j < joins; j++ {
			com := communities[rand.Intn(len(communities))]
			if com.OwnerID == users[i].ID {
				continue
			}
			role := models.MemberRegular
			if rand.Intn(10) == 0 {
				role = models.MemberModerator
			}
			member := models.CommunityMember{
				CommunityID: com.ID,
				UserID:      users[i].ID,
				Role:        role,
			}
			// The unique index rejects repeat joins, skip those.
			if err := s.db.Create(&member).Error; err != nil {
				continue
			}
			s.db.Model(&models.Community{}).Where("id = ?", com.ID).
				UpdateColumn("member_count", gorm.Expr("member_count + 1"))
		}
	}
	return nil
}

func (s *Seeder) seedPosts(users []models.User, communities []models.Community, count int) ([]models.Post, error) {
	postList := make([]models.Post, 0, count)
	for i := 0; i < count; i++ {
		com := communities[rand.Intn(len(communities))]
		author, err := s.randomMember(com.ID)
		if err != nil {
			continue
		}
		createdAt := gofakeit.DateRange(time.Now().Add(-60*24*time.Hour), time.Now())
		post := models.Post{
			CommunityID: com.ID,
			AuthorID:    author,
			Title:       gofakeit.Sentence(6),
			Content:     gofakeit.Paragraph(2, 4, 12, "\n\n"),
			CreatedAt:   createdAt,
		}
		if err := s.db.Create(&post).Error; err != nil {
			return nil, err
		}
		s.db.Model(&models.Community{}).Where("id = ?", com.ID).
			UpdateColumn("post_count", gorm.Expr("post_count + 1"))
		postList = append(postList, post)
	}
	return postList, nil
}

func (s *Seeder) seedVotes(users []models.User, postList []models.Post) error {
	for i := range postList {
		voters := rand.Intn(len(users) / 2)
		for j := 0; j < voters; j++ {
			voter := users[rand.Intn(len(users))]
			value := 1
			if rand.Intn(5) == 0 {
				value = -1
			}
			vote := models.PostVote{
				PostID:  postList[i].ID,
				UserID:  voter.ID,
				Value:   value,
			}
			if err := s.db.Create(&vote).Error; err != nil {
				continue
			}
			column := "upvote_count"
			if value < 0 {
				column = "downvote_count"
			}
			s.db.Model(&models.Post{}).Where("id = ?", postList[i].ID).
				UpdateColumn(column, gorm.Expr(column+" + 1"))
		}
	}
	return nil
}

func (s *Seeder) seedComments(users []models.User, postList []models.Post, count int) error {
	for i := 0; i < count; i++ {
		post := postList[rand.Intn(len(postList))]
		author := users[rand.Intn(len(users))]
		comment := models.Comment{
			PostID:   post.ID,
			AuthorID: author.ID,
			Content:  gofakeit.Sentence(15),
		}
		if err := s.db.Create(&comment).Error; err != nil {
			return err
		}
		s.db.Model(&models.Post{}).Where("id = ?", post.ID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1"))
	}
	return nil
}

func (s *Seeder) seedMessages(users []models.User, communities []models.Community, count int) error {
	for i := 0; i < count; i++ {
		com := communities[rand.Intn(len(communities))]
		sender, err := s.randomMember(com.ID)
		if err != nil {
			continue
		}
		msg := models.Message{
			SenderID:    sender,
			CommunityID: &com.ID,
			Type:        models.MessageText,
			Content:     gofakeit.Sentence(10),
		}
		if err := s.db.Create(&msg).Error; err != nil {
			return err
		}
	}

	// A few DM conversations.
	for i := 0; i < count/10; i++ {
		a := users[rand.Intn(len(users))]
		b := users[rand.Intn(len(users))]
		if a.ID == b.ID {
			continue
		}
		msg := models.Message{
			SenderID:   a.ID,
			ReceiverID: &b.ID,
			Type:       models.MessageText,
			Content:    gofakeit.Sentence(8),
		}
		if err := s.db.Create(&msg).Error; err != nil {
			return err
		}
	}
	return nil
}

// recomputeScores brings the ranking score in line with the seeded
// counters and timestamps.
func (s *Seeder) recomputeScores(postList []models.Post) error {
	now := time.Now()
	for i := range postList {
		var post models.Post
		if err := s.db.First(&post, "id = ?", postList[i].ID).Error; err != nil {
			return err
		}
		score := posts.Score(post.VoteCount(), post.CommentCount, post.CreatedAt, now)
		if err := s.db.Model(&post).UpdateColumn("score", score).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) randomMember(communityID string) (string, error) {
	var member models.CommunityMember
	err := s.db.Where("community_id = ? AND role <> ?", communityID, models.MemberPending).
		Order("RANDOM()").First(&member).Error
	if err != nil {
		return "", err
	}
	return member.UserID, nil
}
