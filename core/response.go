package core

type ResponseBase[T any] struct {
	Status     string      `json:"status"`
	Content    T           `json:"content"`
	Error      string      `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int64 `json:"pages"`
}

func NewPagination(page, perPage int, total int64) *Pagination {
	pages := int64(0)
	if perPage > 0 {
		pages = (total + int64(perPage) - 1) / int64(perPage)
	}
	return &Pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
	}
}

type AuthContent struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type ValidateContent struct {
	Valid bool `json:"valid"`
	User  User `json:"user"`
}
