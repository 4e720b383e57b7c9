package question

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guhur/plus-proche/internal/domain"
)

// Path is where Register mounts the generation endpoint.
const Path = "/api/generate-question"

// Register mounts the generation endpoint backed by g on e. Any failure
// past the method check, a malformed body included, answers 500.
func Register(e *gin.Engine, g Generator) {
	e.Any(Path, func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
			return
		}

		var req Request
		res, err := generate(c, g, &req)
		if err != nil {
			slog.ErrorContext(c.Request.Context(), "question: generate failed",
				"theme", req.Theme,
				"difficulty", DifficultyLabel(domain.Difficulty(req.Difficulty)),
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate question"})
			return
		}

		c.JSON(http.StatusOK, res)
	})
}

func generate(c *gin.Context, g Generator, req *Request) (Generated, error) {
	if err := c.ShouldBindJSON(req); err != nil {
		return Generated{}, fmt.Errorf("decode request: %w", err)
	}
	if req.Theme == "" {
		return Generated{}, domain.ErrEmptyTheme
	}
	return g.Generate(c.Request.Context(), *req)
}
