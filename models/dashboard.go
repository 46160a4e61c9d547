package models

type AdminDashboard struct {
	UsersTotal             int64 `json:"users_total"`
	UsersAdmins            int64 `json:"users_admins"`
	UsersWorkers           int64 `json:"users_workers"`
	UsersCustomers         int64 `json:"users_customers"`
	WorkersPendingApproval int64 `json:"workers_pending_approval"`

	ServiceRequestsTotal      int64 `json:"service_requests_total"`
	ServiceRequestsOpen       int64 `json:"service_requests_open"`
	ServiceRequestsInProgress int64 `json:"service_requests_in_progress"`
	ServiceRequestsCompleted  int64 `json:"service_requests_completed"`
	ServiceRequestsCancelled  int64 `json:"service_requests_cancelled"`

	TasksTotal      int64 `json:"tasks_total"`
	TasksAssigned   int64 `json:"tasks_assigned"`
	TasksInProgress int64 `json:"tasks_in_progress"`
	TasksCompleted  int64 `json:"tasks_completed"`

	AverageRating *float64 `json:"average_rating"`
}

type WorkerDashboard struct {
	Assigned    int64          `json:"assigned"`
	InProgress  int64          `json:"in_progress"`
	Completed   int64          `json:"completed"`
	Total       int64          `json:"total"`
	RecentTasks []TaskResponse `json:"recent_tasks"`
}

type CustomerDashboard struct {
	RequestsTotal      int64                    `json:"requests_total"`
	RequestsOpen       int64                    `json:"requests_open"`
	RequestsInProgress int64                    `json:"requests_in_progress"`
	RequestsCompleted  int64                    `json:"requests_completed"`
	RequestsCancelled  int64                    `json:"requests_cancelled"`
	AverageRating      *float64                 `json:"average_rating"`
	RecentRequests     []ServiceRequestResponse `json:"recent_requests"`
}
