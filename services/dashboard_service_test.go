package services

import (
	"context"
	"testing"

	"field-service-server/models"
)

func TestDashboards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dash := NewDashboardService(f.db)

	admin := createUser(t, f.db, "ada", models.RoleAdmin)
	alice := createUser(t, f.db, "alice", models.RoleCustomer)
	bob := createUser(t, f.db, "bob", models.RoleCustomer)
	worker := createWorker(t, f.db, "wes")
	createUser(t, f.db, "pat", models.RoleWorker)

	done := f.createRequest(t, alice)
	task := f.assign(t, admin, done, worker)
	for _, st := range []models.TaskStatus{models.TaskStatusInProgress, models.TaskStatusCompleted} {
		if _, err := f.tasks.SetStatus(ctx, worker, task.ID, st); err != nil {
			t.Fatal(err)
		}
	}
	four := 4
	if _, err := f.requests.Rate(ctx, alice, done.ID, models.RateRequest{Rating: &four}); err != nil {
		t.Fatal(err)
	}

	cancelled := f.createRequest(t, alice)
	f.assign(t, admin, cancelled, worker)
	if _, err := f.requests.Cancel(ctx, alice, cancelled.ID); err != nil {
		t.Fatal(err)
	}

	active := f.createRequest(t, bob)
	f.assign(t, admin, active, worker)
	f.createRequest(t, bob)

	t.Run("admin", func(t *testing.T) {
		d, err := dash.Admin(ctx, admin)
		if err != nil {
			t.Fatalf("Admin: %v", err)
		}
		if d.UsersTotal != 5 || d.UsersWorkers != 2 || d.UsersCustomers != 2 || d.UsersAdmins != 1 || d.WorkersPendingApproval != 1 {
			t.Errorf("users = %+v", d)
		}
		if d.ServiceRequestsTotal != 4 || d.ServiceRequestsOpen != 1 || d.ServiceRequestsInProgress != 1 ||
			d.ServiceRequestsCompleted != 1 || d.ServiceRequestsCancelled != 1 {
			t.Errorf("requests = %+v", d)
		}
		if d.TasksTotal != 3 || d.TasksAssigned != 1 || d.TasksCompleted != 1 {
			t.Errorf("tasks = %+v", d)
		}
		if d.AverageRating == nil || *d.AverageRating != 4 {
			t.Errorf("average rating = %v", d.AverageRating)
		}
	})

	t.Run("worker", func(t *testing.T) {
		d, err := dash.Worker(ctx, worker)
		if err != nil {
			t.Fatalf("Worker: %v", err)
		}
		if d.Assigned != 1 || d.InProgress != 0 || d.Completed != 1 || d.Total != 2 {
			t.Errorf("counts = %+v", d)
		}
		if len(d.RecentTasks) != 2 {
			t.Errorf("recent tasks = %d, want 2", len(d.RecentTasks))
		}
	})

	t.Run("customer", func(t *testing.T) {
		d, err := dash.Customer(ctx, alice)
		if err != nil {
			t.Fatalf("Customer: %v", err)
		}
		if d.RequestsTotal != 2 || d.RequestsCompleted != 1 || d.RequestsCancelled != 1 || d.RequestsOpen != 0 {
			t.Errorf("counts = %+v", d)
		}
		if d.AverageRating == nil || *d.AverageRating != 4 {
			t.Errorf("average rating = %v", d.AverageRating)
		}
		if len(d.RecentRequests) != 2 {
			t.Errorf("recent requests = %d", len(d.RecentRequests))
		}

		d, err = dash.Customer(ctx, bob)
		if err != nil {
			t.Fatal(err)
		}
		if d.RequestsTotal != 2 || d.AverageRating != nil {
			t.Errorf("bob = %+v", d)
		}
	})

	t.Run("role gates", func(t *testing.T) {
		_, err := dash.Admin(ctx, worker)
		assertKind(t, err, ErrForbidden)
		_, err = dash.Worker(ctx, alice)
		assertKind(t, err, ErrForbidden)
		_, err = dash.Customer(ctx, admin)
		assertKind(t, err, ErrForbidden)
	})
}
