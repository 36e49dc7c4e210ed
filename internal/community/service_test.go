package community

import (
	"context"
	"os"
	"testing"

	"github.com/commune-hq/backend/internal/logger"
	"github.com/commune-hq/backend/internal/models"
	"github.com/commune-hq/backend/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Community{}, &models.CommunityMember{}))
	return NewService(db, nil, nil)
}

func createTestUser(t *testing.T, s *Service, username string) *models.User {
	t.Helper()
	user := &models.User{
		Email:    username + "@example.com",
		Username: username,
	}
	require.NoError(t, s.db.Create(user).Error)
	return user
}

func createTestCommunity(t *testing.T, s *Service, ownerID string, method models.JoinMethod) *models.Community {
	t.Helper()
	c, err := s.Create(context.Background(), ownerID, CreateRequest{
		Name:       "Go Gophers " + string(method),
		JoinMethod: method,
	})
	require.NoError(t, err)
	return c
}

func TestCreate(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")

	c, err := s.Create(context.Background(), owner.ID, CreateRequest{Name: "Go Gophers!"})
	require.NoError(t, err)
	assert.Equal(t, "go-gophers", c.Slug)
	assert.Equal(t, owner.ID, c.OwnerID)
	assert.Equal(t, 1, c.MemberCount)
	assert.Equal(t, models.JoinOpen, c.JoinMethod)

	// Creator holds the owner membership
	member, err := s.Membership(c.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberOwner, member.Role)

	// Same name collides on slug
	_, err = s.Create(context.Background(), owner.ID, CreateRequest{Name: "go gophers"})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestJoinOpen(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinOpen)

	member, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberRegular, member.Role)

	updated, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MemberCount)

	// Joining twice is rejected
	_, err = s.Join(context.Background(), c.ID, bob.ID)
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestJoinApproval(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinApproval)

	member, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberPending, member.Role)

	// Pending members do not count
	updated, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.MemberCount)

	// Nor are they active members
	ok, err := s.IsMember(c.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Join(context.Background(), c.ID, bob.ID)
	assert.ErrorIs(t, err, ErrMembershipPending)

	// Approval admits them and bumps the count
	require.NoError(t, s.ApproveMember(context.Background(), c.ID, owner.ID, bob.ID))

	ok, err = s.IsMember(c.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	updated, err = s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MemberCount)
}

func TestJoinInviteOnly(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinInvite)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	assert.ErrorIs(t, err, ErrInviteOnly)
}

func TestApproveMemberRequiresModerator(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	carol := createTestUser(t, s, "carol")
	c := createTestCommunity(t, s, owner.ID, models.JoinApproval)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)

	err = s.ApproveMember(context.Background(), c.ID, carol.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotModerator)
}

func TestLeave(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinOpen)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, s.Leave(context.Background(), c.ID, bob.ID))

	updated, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.MemberCount)

	assert.ErrorIs(t, s.Leave(context.Background(), c.ID, bob.ID), ErrNotMember)

	// Owner cannot leave without transferring first
	assert.ErrorIs(t, s.Leave(context.Background(), c.ID, owner.ID), ErrOwnerCannotLeave)
}

func TestTransferOwnership(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinOpen)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)

	// Only the owner may transfer
	assert.ErrorIs(t, s.TransferOwnership(context.Background(), c.ID, bob.ID, bob.ID), ErrNotOwner)

	require.NoError(t, s.TransferOwnership(context.Background(), c.ID, owner.ID, bob.ID))

	updated, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, updated.OwnerID)

	newOwner, err := s.Membership(c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberOwner, newOwner.Role)

	// Previous owner stays on as moderator and may now leave
	previous, err := s.Membership(c.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberModerator, previous.Role)
	require.NoError(t, s.Leave(context.Background(), c.ID, owner.ID))
}

func TestSetMemberRole(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinOpen)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)

	// Non-owner cannot promote
	assert.ErrorIs(t,
		s.SetMemberRole(context.Background(), c.ID, bob.ID, bob.ID, models.MemberModerator),
		ErrNotOwner)

	require.NoError(t,
		s.SetMemberRole(context.Background(), c.ID, owner.ID, bob.ID, models.MemberModerator))

	member, err := s.Membership(c.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberModerator, member.Role)
	assert.True(t, member.Role.CanModerate())

	// Demote back
	require.NoError(t,
		s.SetMemberRole(context.Background(), c.ID, owner.ID, bob.ID, models.MemberRegular))

	// The owner's own membership is untouchable
	assert.ErrorIs(t,
		s.SetMemberRole(context.Background(), c.ID, owner.ID, owner.ID, models.MemberRegular),
		ErrCannotModifyOwner)
}

func TestRemoveMember(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	carol := createTestUser(t, s, "carol")
	c := createTestCommunity(t, s, owner.ID, models.JoinOpen)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)
	_, err = s.Join(context.Background(), c.ID, carol.ID)
	require.NoError(t, err)
	require.NoError(t,
		s.SetMemberRole(context.Background(), c.ID, owner.ID, bob.ID, models.MemberModerator))

	// Plain members cannot kick
	assert.ErrorIs(t,
		s.RemoveMember(context.Background(), c.ID, carol.ID, bob.ID), ErrNotModerator)

	// Moderators cannot kick the owner
	assert.ErrorIs(t,
		s.RemoveMember(context.Background(), c.ID, bob.ID, owner.ID), ErrCannotModifyOwner)

	// Moderators can kick plain members
	require.NoError(t, s.RemoveMember(context.Background(), c.ID, bob.ID, carol.ID))

	updated, err := s.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MemberCount)

	// Only the owner can remove a moderator
	assert.ErrorIs(t,
		s.RemoveMember(context.Background(), c.ID, bob.ID, bob.ID), ErrNotOwner)
	require.NoError(t, s.RemoveMember(context.Background(), c.ID, owner.ID, bob.ID))
}

func TestListAndMembers(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")

	c1 := createTestCommunity(t, s, owner.ID, models.JoinOpen)
	createTestCommunity(t, s, owner.ID, models.JoinApproval)

	_, err := s.Join(context.Background(), c1.ID, bob.ID)
	require.NoError(t, err)

	communities, total, err := s.List(context.Background(), util.Pagination{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, communities, 2)

	// Search narrows the listing
	_, total, err = s.List(context.Background(), util.Pagination{Page: 1, Limit: 20, Search: "approval"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// Members come back owner first
	members, total, err := s.Members(context.Background(), c1.ID, util.Pagination{Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, members, 2)
	assert.Equal(t, models.MemberOwner, members[0].Role)
}

func TestDeactivate(t *testing.T) {
	s := setupTestService(t)
	owner := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")
	c := createTestCommunity(t, s, owner.ID, models.JoinOpen)

	_, err := s.Join(context.Background(), c.ID, bob.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Deactivate(context.Background(), c.ID, bob.ID), ErrNotOwner)
	require.NoError(t, s.Deactivate(context.Background(), c.ID, owner.ID))

	_, err = s.Get(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
