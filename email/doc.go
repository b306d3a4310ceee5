package email

// email is responsible for sending email to an SMTP relay, including
// connecting to the server, upgrading the connection with STARTTLS,
// authenticating, and building a MIME-formatted message with a plain-text
// body and optional file attachments. Every send owns exactly one SMTP
// session and closes it before returning, whether or not the send worked.
