package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetHealthCron reports liveness and how many enrollments currently have a
// scheduled check. jobs may be nil when the scheduler is not running.
func GetHealthCron(backend string, jobs func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheduled := 0
		if jobs != nil {
			scheduled = len(jobs())
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    http.StatusOK,
			"message":   "ok",
			"backend":   backend,
			"scheduled": scheduled,
		})
	}
}
