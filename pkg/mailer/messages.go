package mailer

import (
	"fmt"
	"strings"
)

// ConfirmAccount asks a new user to activate their pending account.
func ConfirmAccount(to, name, confirmURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Confirm your account",
		HTML: fmt.Sprintf(
			"<p>Hi %s,<br>Please click on the following <a href=%q>link</a> to confirm your account.</p>",
			name, confirmURL),
	}
}

// PasswordReset carries the reset link for a recovery request.
func PasswordReset(to, name, resetURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Password change request",
		HTML: fmt.Sprintf(
			"<p>Hi %s,<br>Please click on the following <a href=%q>link</a> to reset your password.<br><br>"+
				"If you did not request this, please ignore this email and your password will remain unchanged.</p>",
			name, resetURL),
	}
}

// PasswordChanged confirms a completed password reset.
func PasswordChanged(to, name, email string) Message {
	return Message{
		To:      []string{to},
		Subject: "Your password has been changed",
		Text: fmt.Sprintf(
			"Hi %s\nThis is a confirmation that the password for your account %s has just been changed.\n",
			name, email),
	}
}

// Welcome greets a student whose account was created on their behalf and
// points them at signup to finish activating it.
func Welcome(to, courseName, signupURL string) Message {
	return Message{
		To:      []string{to},
		Subject: "Welcome to Attendly",
		HTML: fmt.Sprintf(
			"<p>An account has been created for you so your teacher can enroll you in <b>%s</b>.<br>"+
				"Please <a href=%q>sign up</a> with this address to activate it.</p>",
			courseName, signupURL),
	}
}

// CourseInvite invites an address to join a course by code.
func CourseInvite(to []string, teacherName, courseName, courseCode string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Course Invitation for %s", courseName),
		HTML: fmt.Sprintf(
			"<p><b>%s</b> invites you to join the <b>%s</b> course with this code <b>%s</b>.</p>",
			teacherName, courseName, courseCode),
	}
}

// AttendanceSheet delivers the generated attendance spreadsheet to the teacher.
func AttendanceSheet(to, courseName, attachmentPath string) Message {
	return Message{
		To:          []string{to},
		Subject:     "Course Attendance",
		Text:        fmt.Sprintf("Complete attendance for %s", courseName),
		HTML:        fmt.Sprintf("<b>Complete attendance for %s</b>", courseName),
		Attachments: []string{attachmentPath},
	}
}

// ParentReport summarises a student's missed classes for the day.
func ParentReport(to, studentName string, missedCourses []string) Message {
	return Message{
		To:      []string{to},
		Subject: "Attendance report of your child",
		HTML: fmt.Sprintf(
			"Dear Parent,<br>Your child %s has missed today's class of the following courses:<br>%s",
			studentName, strings.Join(missedCourses, ", ")),
	}
}
