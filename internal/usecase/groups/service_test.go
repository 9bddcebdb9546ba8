package groups

import (
	"context"
	"errors"
	"testing"

	"tg-filter-bot/internal/domain"
)

type stubGroupRepo struct {
	group    domain.Group
	getErr   error
	forceSub *int64
	channels []int64
	verified *bool
}

func (s *stubGroupRepo) UpsertGroup(_ context.Context, g domain.Group) (domain.Group, error) {
	return g, nil
}
func (s *stubGroupRepo) GetGroup(context.Context, int64) (domain.Group, error) {
	return s.group, s.getErr
}
func (s *stubGroupRepo) SetForceSub(_ context.Context, _ int64, channelID int64) error {
	s.forceSub = &channelID
	return nil
}
func (s *stubGroupRepo) SetVerified(_ context.Context, _ int64, v bool) error {
	s.verified = &v
	return nil
}
func (s *stubGroupRepo) SetChannels(_ context.Context, _ int64, channels []int64) error {
	s.channels = channels
	return nil
}
func (s *stubGroupRepo) CountGroups(context.Context) (int, error) { return 1, nil }

type stubUserRepo struct{}

func (stubUserRepo) UpsertByTGID(_ context.Context, tgUserID int64, firstName, _ string) (domain.User, error) {
	return domain.User{TGUserID: tgUserID, FirstName: firstName}, nil
}
func (stubUserRepo) CountUsers(context.Context) (int, error) { return 7, nil }

func TestSetForceSubRequiresOwner(t *testing.T) {
	repo := &stubGroupRepo{group: domain.Group{TGChatID: -100, OwnerTGID: 1, Verified: true}}
	svc := NewService(repo, stubUserRepo{}, nil)

	if err := svc.SetForceSub(context.Background(), -100, 2, 555); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("ожидали ErrNotOwner, получили %v", err)
	}
	if repo.forceSub != nil {
		t.Fatal("force-sub не должен сохраняться")
	}
}

func TestSetForceSubRequiresVerification(t *testing.T) {
	repo := &stubGroupRepo{group: domain.Group{TGChatID: -100, OwnerTGID: 1, Verified: false}}
	svc := NewService(repo, stubUserRepo{}, nil)

	if err := svc.SetForceSub(context.Background(), -100, 1, 555); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("ожидали ErrNotVerified, получили %v", err)
	}
}

func TestSetForceSub(t *testing.T) {
	repo := &stubGroupRepo{group: domain.Group{TGChatID: -100, OwnerTGID: 1, Verified: true}}
	svc := NewService(repo, stubUserRepo{}, nil)

	if err := svc.SetForceSub(context.Background(), -100, 1, 555); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.forceSub == nil || *repo.forceSub != 555 {
		t.Fatalf("ожидали сохранение канала 555, получили %v", repo.forceSub)
	}
}

func TestConnectChannelsDeduplicates(t *testing.T) {
	repo := &stubGroupRepo{group: domain.Group{TGChatID: -100, OwnerTGID: 1, Channels: []int64{10, 20}}}
	svc := NewService(repo, stubUserRepo{}, nil)

	if err := svc.ConnectChannels(context.Background(), -100, 1, []int64{20, 30, 0}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []int64{10, 20, 30}
	if len(repo.channels) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, repo.channels)
	}
	for i := range want {
		if repo.channels[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, repo.channels)
		}
	}
}

func TestSearchTargetsEmpty(t *testing.T) {
	repo := &stubGroupRepo{group: domain.Group{TGChatID: -100}}
	svc := NewService(repo, stubUserRepo{}, nil)

	if _, err := svc.SearchTargets(context.Background(), -100); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("ожидали ErrNoChannels, получили %v", err)
	}
}

func TestGetUnknownGroup(t *testing.T) {
	repo := &stubGroupRepo{getErr: domain.ErrNotFound}
	svc := NewService(repo, stubUserRepo{}, nil)

	if _, err := svc.Get(context.Background(), -100); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("ожидали ErrGroupNotFound, получили %v", err)
	}
}

func TestApproveMarksVerified(t *testing.T) {
	repo := &stubGroupRepo{group: domain.Group{TGChatID: -100, OwnerTGID: 1}}
	svc := NewService(repo, stubUserRepo{}, nil)

	group, err := svc.Approve(context.Background(), -100)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !group.Verified {
		t.Fatal("группа должна стать верифицированной")
	}
	if repo.verified == nil || !*repo.verified {
		t.Fatal("репозиторий не получил отметку верификации")
	}
}
